package node

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
)

// Local returns a new Node pointing at the local system.
func Local() types.Node {
	return &localNode{}
}

type localNode struct{}

func (l *localNode) GetType() types.NodeType { return types.NodeLocal }

func (l *localNode) Address() string { return types.LocalHostAlias }

func (l *localNode) MkdirAll(dir string) error {
	log.Debugf("Ensuring local system directory %q with mode 0755\n", dir)
	return os.MkdirAll(dir, 0755)
}

func (l *localNode) Close() error { return nil }

func (l *localNode) GetFile(f string) (io.ReadCloser, error) { return os.Open(f) }

// size is ignored for local nodes
func (l *localNode) WriteFile(rdr io.ReadCloser, dest string, mode string, size int64) error {
	defer rdr.Close()
	if err := l.MkdirAll(path.Dir(dest)); err != nil {
		return err
	}
	log.Debugf("Writing file to local system at %q with mode %q\n", dest, mode)
	u, err := strconv.ParseUint(mode, 0, 16)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE, os.FileMode(u))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, rdr)
	return err
}

func (l *localNode) Execute(opts *types.ExecuteOptions) (*types.CommandResult, error) {
	cmd := buildCmdFromExecOpts(opts)
	log.Debug("Executing command on local system:", redactSecrets(cmd, opts.Secrets))
	c := exec.Command("/bin/sh", "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	runErr := c.Run()
	result := &types.CommandResult{
		Host:    types.LocalHostAlias,
		Command: opts.Command,
		Stdout:  splitLines(stdout.String()),
		Stderr:  splitLines(stderr.String()),
	}
	if runErr != nil {
		result.Err = runErr
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitStatus = exitErr.ExitCode()
		} else {
			result.ExitStatus = -1
		}
	}
	log.TailReader(opts.LogPrefix, strings.NewReader(stdout.String()))
	log.TailReader(opts.LogPrefix, strings.NewReader(stderr.String()))
	return result, nil
}
