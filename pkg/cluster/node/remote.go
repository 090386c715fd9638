package node

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/bramvdbogaerde/go-scp"
	"golang.org/x/crypto/ssh"

	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
)

// Connect will connect to a node over SSH with the given options. The
// local host alias short-circuits to a local node.
func Connect(opts *types.NodeConnectOptions) (types.Node, error) {
	if opts.Address == types.LocalHostAlias {
		return Local(), nil
	}
	var err error
	n := &remoteNode{remoteAddr: opts.Address}
	n.client, err = getSSHClient(opts)
	return n, err
}

type remoteNode struct {
	client     *ssh.Client
	remoteAddr string
}

func (n *remoteNode) GetType() types.NodeType { return types.NodeRemote }

func (n *remoteNode) Address() string { return n.remoteAddr }

func (n *remoteNode) scpClient() (*scp.Client, error) {
	scpClient, err := scp.NewClientBySSH(n.client)
	if err != nil {
		return nil, err
	}
	scpClient.RemoteBinary = "sudo scp"
	return &scpClient, nil
}

type remoteReadCloser struct {
	sess *ssh.Session
	pipe io.Reader
}

func (r *remoteReadCloser) Read(p []byte) (int, error) { return r.pipe.Read(p) }

func (r *remoteReadCloser) Close() error {
	if err := r.sess.Wait(); err != nil {
		return err
	}
	return r.sess.Close()
}

func (n *remoteNode) GetFile(path string) (io.ReadCloser, error) {
	sess, err := n.client.NewSession()
	if err != nil {
		return nil, err
	}
	outPipe, err := sess.StdoutPipe()
	if err != nil {
		return nil, err
	}
	remoteRdr := &remoteReadCloser{sess: sess, pipe: outPipe}
	cmd := fmt.Sprintf("sudo cat %q", path)
	log.Debugf("Running command on %s: %s\n", n.remoteAddr, cmd)
	if err := sess.Start(cmd); err != nil {
		if cerr := sess.Close(); cerr != nil {
			log.Error("Unexpected error while closing failed ssh get file:", cerr)
		}
		return nil, err
	}
	return remoteRdr, nil
}

func (n *remoteNode) WriteFile(rdr io.ReadCloser, destination string, mode string, size int64) error {
	if err := n.MkdirAll(path.Dir(destination)); err != nil {
		return err
	}
	scpClient, err := n.scpClient()
	if err != nil {
		return err
	}
	defer scpClient.Close()
	defer rdr.Close()
	log.Debugf("Sending %d bytes of %q to %q on %s and setting mode to %s\n", size, path.Base(destination), destination, n.remoteAddr, mode)
	return scpClient.Copy(context.Background(), rdr, destination, mode, size)
}

func (n *remoteNode) MkdirAll(dir string) error {
	sess, err := n.client.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()
	cmd := fmt.Sprintf("sudo mkdir -p %s", dir)
	log.Debugf("Running command on %s: %s\n", n.remoteAddr, cmd)
	return sess.Run(cmd)
}

func (n *remoteNode) Execute(opts *types.ExecuteOptions) (*types.CommandResult, error) {
	sess, err := n.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	cmd := buildCmdFromExecOpts(opts)
	log.Debugf("Executing command on %s: %s\n", n.remoteAddr, redactSecrets(cmd, opts.Secrets))
	runErr := sess.Run(cmd)
	result := &types.CommandResult{
		Host:    n.remoteAddr,
		Command: opts.Command,
		Stdout:  splitLines(stdout.String()),
		Stderr:  splitLines(stderr.String()),
	}
	if runErr != nil {
		result.Err = runErr
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			result.ExitStatus = exitErr.ExitStatus()
		} else {
			result.ExitStatus = -1
		}
	}
	log.TailReader(opts.LogPrefix, strings.NewReader(stdout.String()))
	log.TailReader(opts.LogPrefix, strings.NewReader(stderr.String()))
	return result, nil
}

func (n *remoteNode) Close() error { return n.client.Close() }

func splitLines(s string) []string {
	lines := make([]string, 0)
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func getSSHClient(opts *types.NodeConnectOptions) (*ssh.Client, error) {
	log.Debug("Using SSH user:", opts.SSHUser)
	config := &ssh.ClientConfig{
		User:            opts.SSHUser,
		Auth:            make([]ssh.AuthMethod, 0),
		Timeout:         opts.ConnectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: obviously this should be reconsidered
	}
	if opts.SSHPassword != "" {
		log.Debug("Using SSH password authentication")
		config.Auth = append(config.Auth, ssh.Password(opts.SSHPassword))
	}
	if opts.SSHKeyFile != "" {
		log.Debug("Using SSH pubkey authentication")
		log.Debugf("Loading SSH key from %q\n", opts.SSHKeyFile)
		keyBytes, err := os.ReadFile(opts.SSHKeyFile)
		if err != nil {
			return nil, err
		}
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, err
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(key))
	}

	port := opts.SSHPort
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(opts.Address, strconv.Itoa(port))
	log.Debugf("Creating SSH connection with %s over TCP\n", addr)
	return ssh.Dial("tcp", addr, config)
}
