package types

// RootDir is the base directory for kubengine configuration and state.
const RootDir = "/etc/kubengine"

// DefaultStateFile is where the deployment ledger is persisted.
const DefaultStateFile = RootDir + "/deployment-state.json"

// DefaultConfigFile is the default cluster configuration file.
const DefaultConfigFile = RootDir + "/kubengine.yaml"

// CertsDir is where the generated CA and server certificates live.
const CertsDir = RootDir + "/certs"

// ManifestDir holds rendered component manifests.
const ManifestDir = RootDir + "/manifest"

// StagingDir is where deployment artifacts are staged on target hosts
// before installation.
const StagingDir = "/opt/kubengine"

// DefaultDeploySource is the default root of the offline deployment
// artifacts synced to the master ahead of a run.
const DefaultDeploySource = "/root/offline-deploy"

// DefaultDomain is the cluster ingress domain when none is configured.
const DefaultDomain = "kubengine.local"
