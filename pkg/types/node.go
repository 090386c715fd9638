package types

import (
	"io"
	"time"
)

// NodeType represents a type of node
type NodeType string

const (
	// NodeLocal represents the local system
	NodeLocal NodeType = "local"
	// NodeRemote represents a remote node over SSH
	NodeRemote NodeType = "remote"
	// NodeMock represents an in-memory node used in tests
	NodeMock NodeType = "mock"
)

// LocalHostAlias is the inventory token for the machine running kubengine.
// The deployment plan always places the master there.
const LocalHostAlias = "@local"

// Node is an interface for driving a machine that takes part in the
// cluster bootstrap. Connections are owned by the executor handling a
// given unit and are torn down before the executor is discarded.
type Node interface {
	// GetType should be implemented by every node and return one of the types above
	GetType() NodeType
	// Address should return the address the node was connected on
	Address() string
	// MkdirAll should ensure the given directory on the node
	MkdirAll(dir string) error
	// GetFile should retrieve the given file on the node
	GetFile(path string) (io.ReadCloser, error)
	// WriteFile should write the contents of the given reader to destination on the node,
	// and set its mode and size accordingly.
	WriteFile(rdr io.ReadCloser, destination string, mode string, size int64) error
	// Execute should run a command on the node and report its outcome. The
	// returned error covers transport failures only, a non-zero exit is
	// reported through the result.
	Execute(opts *ExecuteOptions) (*CommandResult, error)
	// Close should close any open connections to the node and perform any necessary cleanup.
	Close() error
}

// NodeConnectOptions represent options for connecting to a node.
type NodeConnectOptions struct {
	// The address of the node
	Address string
	// The remote user for SSH authentication
	SSHUser string
	// An optional password for SSH authentication
	SSHPassword string
	// An optional private key file for SSH authentication
	SSHKeyFile string
	// The SSH port on the node, defaults to 22
	SSHPort int
	// Bound on the connection attempt
	ConnectTimeout time.Duration
}

// ExecuteOptions represent options to an execute command on a node.
type ExecuteOptions struct {
	// Environment variables to set for the process
	Env map[string]string
	// The command to run
	Command string
	// Secret strings to filter from any logging output
	Secrets []string
	// Prefix for streamed log output
	LogPrefix string
}

// CommandResult is the outcome of a single command on a single host.
type CommandResult struct {
	Host       string
	Command    string
	Stdout     []string
	Stderr     []string
	ExitStatus int
	// Err holds a command-level failure, e.g. a non-zero exit
	Err error
}

// Failed reports whether the command did not complete successfully.
func (c *CommandResult) Failed() bool {
	return c.Err != nil || c.ExitStatus != 0
}
