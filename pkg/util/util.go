package util

import (
	"crypto/md5"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/mitchellh/go-ps"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

// TempDir cast as a var to be overridden by CLI flags.
var TempDir = os.TempDir()

// GetTempDir is a utility function for retrieving a new temporary directory within either
// the system default, or user-configured path.
func GetTempDir() (string, error) { return os.MkdirTemp(TempDir, "") }

// CalculateMD5Sum calculates the md5sum of the contents of the given reader.
// Fingerprints derived from it only guard against accidental drift, they are
// not a security boundary.
func CalculateMD5Sum(rdr io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, rdr); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// MD5HexString returns the md5 hex digest of the given string.
func MD5HexString(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

var letterBytes = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// GenerateToken will generate a token of the given length.
func GenerateToken(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = letterBytes[rand.Int63()%int64(len(letterBytes))]
	}
	return string(b)
}

// GetPIDByName returns the first process ID that matches the given name.
func GetPIDByName(name string) (int, error) {
	procs, err := ps.Processes()
	if err != nil {
		return 0, err
	}
	for _, proc := range procs {
		if proc.Executable() == name {
			return proc.Pid(), nil
		}
	}
	return 0, fmt.Errorf("No process found for %s", name)
}

// ProcessRunning reports whether a process with the given executable name
// is currently running on the local machine.
func ProcessRunning(name string) bool {
	_, err := GetPIDByName(name)
	return err == nil
}

// GetNonLoopbackAddresses returns a list of the non-loopback IP addresses
// configured on the local machine.
func GetNonLoopbackAddresses() ([]net.IP, error) {
	possibleAddrs := make([]net.IP, 0)
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if !ip.IsLoopback() {
			possibleAddrs = append(possibleAddrs, ip)
		}
	}
	return possibleAddrs, nil
}

// LocalIPv4Strings returns the non-loopback IPv4 addresses of the local
// machine in string form.
func LocalIPv4Strings() ([]string, error) {
	addrs, err := GetNonLoopbackAddresses()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if ip4 := a.To4(); ip4 != nil {
			out = append(out, ip4.String())
		}
	}
	return out, nil
}
