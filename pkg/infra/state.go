package infra

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
)

// DeploymentState is the file-backed ledger of which deployment units
// have completed or failed, keyed against a content hash of the unit
// sources and a hash of the logical cluster configuration. It is loaded
// once and rewritten in full on every mutation. Only the single control
// thread driving a deployment touches it, so no locking is needed beyond
// the atomic rename on write.
type DeploymentState struct {
	path  string
	state deploymentStateDoc
}

type deploymentStateDoc struct {
	CompletedUnits    []string `json:"completed_units"`
	FailedUnits       []string `json:"failed_units"`
	DeploymentHash    string   `json:"deployment_hash,omitempty"`
	ConfigHash        string   `json:"config_hash,omitempty"`
	LastExecutionTime *int64   `json:"last_execution_time"`
}

func emptyStateDoc() deploymentStateDoc {
	return deploymentStateDoc{
		CompletedUnits: []string{},
		FailedUnits:    []string{},
	}
}

// LoadState reads the ledger at path, or returns an empty ledger when the
// file is absent or unreadable. A corrupt file is logged and discarded
// rather than aborting, matching the "trust nothing stale" posture.
func LoadState(path string) *DeploymentState {
	if path == "" {
		path = types.DefaultStateFile
	}
	s := &DeploymentState{path: path, state: emptyStateDoc()}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warningf("Failed to load deployment state from %q: %s\n", path, err)
		}
		return s
	}
	var doc deploymentStateDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.Warningf("Discarding corrupt deployment state at %q: %s\n", path, err)
		return s
	}
	if doc.CompletedUnits == nil {
		doc.CompletedUnits = []string{}
	}
	if doc.FailedUnits == nil {
		doc.FailedUnits = []string{}
	}
	s.state = doc
	return s
}

// Path returns the backing file path.
func (s *DeploymentState) Path() string { return s.path }

// IsUnitCompleted reports whether the named unit finished successfully
// under the current plan.
func (s *DeploymentState) IsUnitCompleted(name string) bool {
	return contains(s.state.CompletedUnits, name)
}

// IsUnitFailed reports whether the named unit failed on a prior run.
func (s *DeploymentState) IsUnitFailed(name string) bool {
	return contains(s.state.FailedUnits, name)
}

// MarkUnitCompleted records the unit as completed, removing any earlier
// failure marker. A unit is never in both sets.
func (s *DeploymentState) MarkUnitCompleted(name string) error {
	if !contains(s.state.CompletedUnits, name) {
		s.state.CompletedUnits = append(s.state.CompletedUnits, name)
	}
	s.state.FailedUnits = remove(s.state.FailedUnits, name)
	return s.save()
}

// MarkUnitFailed records the unit as failed, removing any earlier
// completion marker. A unit is never in both sets.
func (s *DeploymentState) MarkUnitFailed(name string) error {
	if !contains(s.state.FailedUnits, name) {
		s.state.FailedUnits = append(s.state.FailedUnits, name)
	}
	s.state.CompletedUnits = remove(s.state.CompletedUnits, name)
	return s.save()
}

// SetHashes stores the plan fingerprints progress is keyed against and
// stamps the execution time.
func (s *DeploymentState) SetHashes(configHash, deploymentHash string) error {
	now := time.Now().Unix()
	s.state.ConfigHash = configHash
	s.state.DeploymentHash = deploymentHash
	s.state.LastExecutionTime = &now
	return s.save()
}

// Reset discards all completed and failed markers along with the stored
// hashes, forcing the whole deployment list to run again.
func (s *DeploymentState) Reset() error {
	s.state = emptyStateDoc()
	return s.save()
}

// ShouldForceRedeploy reports whether the stored fingerprints differ from
// the given ones. Either one changing invalidates all recorded progress,
// stale progress against a changed plan is more dangerous than redundant
// work.
func (s *DeploymentState) ShouldForceRedeploy(configHash, deploymentHash string) bool {
	return s.state.ConfigHash != configHash || s.state.DeploymentHash != deploymentHash
}

// save rewrites the whole document atomically: write to a temp file in
// the same directory, then rename over the target. A crash mid-write can
// never leave a truncated ledger.
func (s *DeploymentState) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func remove(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
