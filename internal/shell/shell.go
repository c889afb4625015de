package shell

import (
	"fmt"
	"strconv"

	"github.com/kballard/go-shellquote"
)

// Mode selects where a Shell runs its commands.
type Mode int

const (
	// ModeLocal runs commands directly on this host.
	ModeLocal Mode = iota
	// ModeSSH wraps every command in an ssh invocation to a remote host.
	ModeSSH
)

// DefaultSSHBin is the ssh client used to reach remote shells.
const DefaultSSHBin = "ssh"

// DefaultSCPBin is the scp client used to copy files to and from remote shells.
const DefaultSCPBin = "scp"

// Shell describes an execution context: the local host, or a remote host reached over SSH.
// This uses a tagged union pattern - Mode determines which other fields are relevant.
type Shell struct {
	Mode Mode

	// SSH-specific fields (only used when Mode == ModeSSH)
	Host     string
	Port     int    // 0 means the ssh default
	User     string // empty means the ssh default
	Identity string // path to a private key; empty means the ssh default
}

// Local returns the shell for this host.
func Local() Shell {
	return Shell{Mode: ModeLocal}
}

// SSH returns a shell that runs commands on host over SSH.
func SSH(host string, port int, user, identity string) Shell {
	return Shell{Mode: ModeSSH, Host: host, Port: port, User: user, Identity: identity}
}

// IsLocal reports whether commands run on this host.
func (s Shell) IsLocal() bool {
	return s.Mode == ModeLocal
}

// Name identifies the host the shell runs on: "local" or the SSH host name.
func (s Shell) Name() string {
	if s.IsLocal() {
		return "local"
	}
	return s.Host
}

// String renders the shell for logs, e.g. "local" or "ssh://backup@nas:2222".
func (s Shell) String() string {
	if s.IsLocal() {
		return "local"
	}
	addr := s.Host
	if s.User != "" {
		addr = s.User + "@" + addr
	}
	if s.Port != 0 {
		addr = addr + ":" + strconv.Itoa(s.Port)
	}
	return "ssh://" + addr
}

// RemotePrefix returns the "[user@]host:" prefix scp needs to address a path in this shell.
// It is empty for the local shell.
func (s Shell) RemotePrefix() string {
	if s.IsLocal() {
		return ""
	}
	if s.User != "" {
		return s.User + "@" + s.Host + ":"
	}
	return s.Host + ":"
}

// SSHOptions returns the ssh client options selecting port, user, and identity.
func (s Shell) SSHOptions() []string {
	var opts []string
	if s.Port != 0 {
		opts = append(opts, "-p", strconv.Itoa(s.Port))
	}
	if s.User != "" {
		opts = append(opts, "-l", s.User)
	}
	if s.Identity != "" {
		opts = append(opts, "-i", s.Identity)
	}
	return opts
}

// SCPOptions returns the scp client options selecting port and identity.
// The user is part of the RemotePrefix instead.
func (s Shell) SCPOptions() []string {
	var opts []string
	if s.Port != 0 {
		opts = append(opts, "-P", strconv.Itoa(s.Port))
	}
	if s.Identity != "" {
		opts = append(opts, "-i", s.Identity)
	}
	return opts
}

// Wrap returns the argv that runs argv in this shell when executed locally.
// For a local shell this is argv itself; for an SSH shell the command is quoted into
// a single remote command line.
func (s Shell) Wrap(argv []string) ([]string, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	switch s.Mode {
	case ModeLocal:
		return argv, nil
	case ModeSSH:
		if s.Host == "" {
			return nil, fmt.Errorf("ssh shell requires a host")
		}
		wrapped := []string{DefaultSSHBin}
		wrapped = append(wrapped, s.SSHOptions()...)
		wrapped = append(wrapped, s.Host, "--", shellquote.Join(argv...))
		return wrapped, nil
	default:
		return nil, fmt.Errorf("unknown shell mode: %d", s.Mode)
	}
}
