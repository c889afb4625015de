package testutil

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"snapback/internal/btrfs"
	"snapback/internal/shell"
)

// DefaultBtrfsVersion is what `btrfs version` prints on a FakeHost unless changed.
const DefaultBtrfsVersion = "btrfs-progs v6.6.3"

// FakeHost is the filesystem of one emulated machine: directories, plain files and
// btrfs subvolumes, all keyed by absolute slash-separated path.
type FakeHost struct {
	Dirs         map[string]bool
	Files        map[string][]byte
	Subvolumes   map[string]*btrfs.Subvolume
	BtrfsVersion string
	// KernelProto is the content of the kernel's send_stream_version file;
	// empty means the kernel does not have the file.
	KernelProto string
}

// NewFakeHost creates an empty host with a root directory.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		Dirs:         map[string]bool{"/": true},
		Files:        make(map[string][]byte),
		Subvolumes:   make(map[string]*btrfs.Subvolume),
		BtrfsVersion: DefaultBtrfsVersion,
		KernelProto:  "2",
	}
}

// MkdirAll creates p and its parents.
func (h *FakeHost) MkdirAll(p string) {
	for p = path.Clean(p); ; p = path.Dir(p) {
		h.Dirs[p] = true
		if p == "/" || p == "." {
			return
		}
	}
}

// WriteFile stores a file, creating its directory.
func (h *FakeHost) WriteFile(p string, data []byte) {
	h.MkdirAll(path.Dir(p))
	h.Files[path.Clean(p)] = data
}

// AddSubvolume places sv at p. A zero UUID gets a random one.
func (h *FakeHost) AddSubvolume(p string, sv *btrfs.Subvolume) *btrfs.Subvolume {
	p = path.Clean(p)
	h.MkdirAll(path.Dir(p))
	sv.Path = p
	if sv.UUID == "" {
		sv.UUID = uuid.NewString()
	}
	h.Subvolumes[p] = sv
	return sv
}

// Subvolume returns the subvolume at p, or nil.
func (h *FakeHost) Subvolume(p string) *btrfs.Subvolume {
	return h.Subvolumes[path.Clean(p)]
}

// Exists reports whether anything lives at p.
func (h *FakeHost) Exists(p string) bool {
	p = path.Clean(p)
	_, file := h.Files[p]
	_, subvol := h.Subvolumes[p]
	return h.Dirs[p] || file || subvol
}

func (h *FakeHost) isDir(p string) bool {
	p = path.Clean(p)
	_, subvol := h.Subvolumes[p]
	return h.Dirs[p] || subvol
}

func (h *FakeHost) children(dir string) []string {
	dir = path.Clean(dir)
	seen := make(map[string]bool)
	add := func(p string) {
		if p != dir && path.Dir(p) == dir {
			seen[path.Base(p)] = true
		}
	}
	for p := range h.Dirs {
		add(p)
	}
	for p := range h.Files {
		add(p)
	}
	for p := range h.Subvolumes {
		add(p)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FakeCall is one command seen by a FakeExecutor.
type FakeCall struct {
	Host string // shell.Shell.Name()
	Argv []string
}

// String renders the call as "host: argv...".
func (c FakeCall) String() string {
	return c.Host + ": " + strings.Join(c.Argv, " ")
}

type fakeFailure struct {
	host   string
	prefix string
	result shell.Result
}

// FakeExecutor is a shell.Executor that emulates the commands snapback runs
// (btrfs, ls, mkdir, rm, rmdir, cp, scp, cat) against in-memory FakeHosts.
// Hosts are keyed by shell name: "local" or the SSH host.
type FakeExecutor struct {
	mu       sync.Mutex
	Hosts    map[string]*FakeHost
	calls    []FakeCall
	failures []fakeFailure
	now      time.Time
}

// NewFakeExecutor creates an executor with an empty local host.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		Hosts: map[string]*FakeHost{"local": NewFakeHost()},
		now:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

// Host returns the host called name, creating it if needed.
func (e *FakeExecutor) Host(name string) *FakeHost {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.Hosts[name]
	if !ok {
		h = NewFakeHost()
		e.Hosts[name] = h
	}
	return h
}

// Local returns the local host.
func (e *FakeExecutor) Local() *FakeHost {
	return e.Host("local")
}

// Fail makes every command on host whose space-joined argv starts with prefix
// return exitCode and stderr instead of running.
func (e *FakeExecutor) Fail(host, prefix string, exitCode int, stderr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, fakeFailure{
		host:   host,
		prefix: prefix,
		result: shell.Result{ExitCode: exitCode, Stderr: stderr},
	})
}

// Calls returns every command run so far.
func (e *FakeExecutor) Calls() []FakeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// CallsMatching returns the commands whose argv[0] base name is cmd and whose
// next arguments start with args.
func (e *FakeExecutor) CallsMatching(cmd string, args ...string) []FakeCall {
	var out []FakeCall
	for _, c := range e.Calls() {
		if len(c.Argv) < 1+len(args) || path.Base(c.Argv[0]) != cmd {
			continue
		}
		if slices.Equal(c.Argv[1:1+len(args)], args) {
			out = append(out, c)
		}
	}
	return out
}

// Run implements shell.Executor.
func (e *FakeExecutor) Run(ctx context.Context, sh shell.Shell, argv []string) (shell.Result, error) {
	if err := ctx.Err(); err != nil {
		return shell.Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(argv) == 0 {
		return shell.Result{}, fmt.Errorf("empty command")
	}
	e.calls = append(e.calls, FakeCall{Host: sh.Name(), Argv: slices.Clone(argv)})
	if res, ok := e.injected(sh, argv); ok {
		return res, nil
	}
	h, ok := e.Hosts[sh.Name()]
	if !ok {
		return shell.Result{ExitCode: 255, Stderr: fmt.Sprintf("ssh: Could not resolve hostname %s\n", sh.Name())}, nil
	}

	switch path.Base(argv[0]) {
	case "btrfs":
		return e.btrfs(h, argv[1:]), nil
	case "ls":
		return e.ls(h, operands(argv[1:])), nil
	case "mkdir":
		for _, dir := range operands(argv[1:]) {
			if h.Exists(dir) && !h.isDir(dir) {
				return failure("mkdir: cannot create directory '%s': File exists", dir), nil
			}
			h.MkdirAll(dir)
		}
		return shell.Result{}, nil
	case "rm":
		for _, f := range operands(argv[1:]) {
			if _, ok := h.Files[path.Clean(f)]; !ok {
				return failure("rm: cannot remove '%s': No such file or directory", f), nil
			}
			delete(h.Files, path.Clean(f))
		}
		return shell.Result{}, nil
	case "rmdir":
		for _, dir := range operands(argv[1:]) {
			if !h.Dirs[path.Clean(dir)] {
				return failure("rmdir: failed to remove '%s': No such file or directory", dir), nil
			}
			if len(h.children(dir)) > 0 {
				return failure("rmdir: failed to remove '%s': Directory not empty", dir), nil
			}
			delete(h.Dirs, path.Clean(dir))
		}
		return shell.Result{}, nil
	case "cp":
		args := operands(argv[1:])
		if len(args) != 2 {
			return failure("cp: missing file operand"), nil
		}
		return e.copyFile(h, args[0], h, args[1]), nil
	case "scp":
		return e.scp(argv[1:]), nil
	case "cat":
		return e.cat(h, operands(argv[1:])), nil
	default:
		return shell.Result{ExitCode: 127, Stderr: fmt.Sprintf("%s: command not found\n", argv[0])}, nil
	}
}

// Pipe implements shell.Executor for `btrfs send` piped into `btrfs receive`.
func (e *FakeExecutor) Pipe(ctx context.Context, srcShell shell.Shell, src []string, dstShell shell.Shell, dst []string) (shell.Result, error) {
	if err := ctx.Err(); err != nil {
		return shell.Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls,
		FakeCall{Host: srcShell.Name(), Argv: slices.Clone(src)},
		FakeCall{Host: dstShell.Name(), Argv: slices.Clone(dst)})

	if res, ok := e.injected(srcShell, src); ok {
		return res, nil
	}
	if res, ok := e.injected(dstShell, dst); ok {
		return res, nil
	}

	srcHost, ok1 := e.Hosts[srcShell.Name()]
	dstHost, ok2 := e.Hosts[dstShell.Name()]
	if !ok1 || !ok2 {
		return shell.Result{ExitCode: 255, Stderr: "ssh: Could not resolve hostname\n"}, nil
	}
	if len(src) < 3 || path.Base(src[0]) != "btrfs" || src[1] != "send" {
		return failure("unsupported pipe source: %s", strings.Join(src, " ")), nil
	}
	if len(dst) < 3 || path.Base(dst[0]) != "btrfs" || dst[1] != "receive" {
		return failure("unsupported pipe destination: %s", strings.Join(dst, " ")), nil
	}

	// send
	sendArgs := src[2:]
	subvolPath := sendArgs[len(sendArgs)-1]
	parentPath := ""
	for i := 0; i < len(sendArgs)-1; i++ {
		switch sendArgs[i] {
		case "-p":
			parentPath = sendArgs[i+1]
			i++
		case "--proto":
			v, err := strconv.Atoi(sendArgs[i+1])
			if err != nil || v < 1 || v > 2 {
				return failure("ERROR: invalid protocol version %q", sendArgs[i+1]), nil
			}
			i++
		}
	}
	sv := srcHost.Subvolume(subvolPath)
	if sv == nil {
		return failure("ERROR: cannot open %s: No such file or directory", subvolPath), nil
	}
	if !sv.ReadOnly {
		return failure("ERROR: subvolume %s is not read-only", subvolPath), nil
	}
	var parent *btrfs.Subvolume
	if parentPath != "" {
		if parent = srcHost.Subvolume(parentPath); parent == nil || !parent.ReadOnly {
			return failure("ERROR: cannot use %s as parent", parentPath), nil
		}
	}

	// receive
	dir := dst[len(dst)-1]
	if !dstHost.isDir(dir) {
		return failure("ERROR: cannot open %s: No such file or directory", dir), nil
	}
	received := &btrfs.Subvolume{
		ReceivedUUID: streamUUID(sv),
		CreationTime: e.now,
		ReadOnly:     true,
	}
	if parent != nil {
		base := findReceived(dstHost, streamUUID(parent))
		if base == nil {
			return failure("ERROR: cannot find parent subvolume"), nil
		}
		received.ParentUUID = base.UUID
	}
	target := path.Join(dir, path.Base(subvolPath))
	if dstHost.Exists(target) {
		return failure("ERROR: creating subvolume %s failed: File exists", target), nil
	}
	dstHost.AddSubvolume(target, received)
	e.now = e.now.Add(time.Second)
	return shell.Result{Stdout: fmt.Sprintf("At subvol %s\n", path.Base(subvolPath))}, nil
}

// streamUUID is the identity a send stream carries: the received UUID of a subvolume
// that was itself received, its own UUID otherwise.
func streamUUID(sv *btrfs.Subvolume) string {
	if sv.ReceivedUUID != "" {
		return sv.ReceivedUUID
	}
	return sv.UUID
}

// findReceived looks up the base of an incremental stream the way receive does:
// by received UUID first, then by UUID.
func findReceived(h *FakeHost, id string) *btrfs.Subvolume {
	for _, sv := range h.Subvolumes {
		if sv.ReadOnly && sv.ReceivedUUID == id {
			return sv
		}
	}
	for _, sv := range h.Subvolumes {
		if sv.ReadOnly && sv.UUID == id {
			return sv
		}
	}
	return nil
}

func (e *FakeExecutor) injected(sh shell.Shell, argv []string) (shell.Result, bool) {
	joined := strings.Join(argv, " ")
	for _, f := range e.failures {
		if f.host == sh.Name() && strings.HasPrefix(joined, f.prefix) {
			return f.result, true
		}
	}
	return shell.Result{}, false
}

func (e *FakeExecutor) btrfs(h *FakeHost, args []string) shell.Result {
	switch {
	case len(args) == 1 && args[0] == "version":
		return shell.Result{Stdout: h.BtrfsVersion + "\n"}
	case len(args) == 3 && args[0] == "subvolume" && args[1] == "show":
		sv := h.Subvolume(args[2])
		if sv == nil {
			return failure("ERROR: Not a Btrfs subvolume: %s", args[2])
		}
		return shell.Result{Stdout: btrfs.FormatShow(sv)}
	case len(args) == 3 && args[0] == "subvolume" && args[1] == "delete":
		p := path.Clean(args[2])
		if h.Subvolume(p) == nil {
			return failure("ERROR: Not a Btrfs subvolume: %s", p)
		}
		delete(h.Subvolumes, p)
		return shell.Result{Stdout: fmt.Sprintf("Delete subvolume (no-commit): '%s'\n", p)}
	default:
		return failure("btrfs: unknown command: %s", strings.Join(args, " "))
	}
}

func (e *FakeExecutor) ls(h *FakeHost, dirs []string) shell.Result {
	if len(dirs) != 1 || !h.isDir(dirs[0]) {
		return shell.Result{ExitCode: 2, Stderr: fmt.Sprintf("ls: cannot access '%s': No such file or directory\n", strings.Join(dirs, " "))}
	}
	names := h.children(dirs[0])
	if len(names) == 0 {
		return shell.Result{}
	}
	return shell.Result{Stdout: strings.Join(names, "\n") + "\n"}
}

func (e *FakeExecutor) cat(h *FakeHost, files []string) shell.Result {
	var b strings.Builder
	for _, f := range files {
		if f == btrfs.KernelSendStreamVersionPath {
			if h.KernelProto == "" {
				return failure("cat: %s: No such file or directory", f)
			}
			b.WriteString(h.KernelProto + "\n")
			continue
		}
		data, ok := h.Files[path.Clean(f)]
		if !ok {
			return failure("cat: %s: No such file or directory", f)
		}
		b.Write(data)
	}
	return shell.Result{Stdout: b.String()}
}

func (e *FakeExecutor) copyFile(srcHost *FakeHost, src string, dstHost *FakeHost, dst string) shell.Result {
	data, ok := srcHost.Files[path.Clean(src)]
	if !ok {
		return failure("cannot stat '%s': No such file or directory", src)
	}
	if dstHost.isDir(dst) {
		dst = path.Join(dst, path.Base(src))
	} else if !dstHost.isDir(path.Dir(dst)) {
		return failure("cannot create regular file '%s': No such file or directory", dst)
	}
	dstHost.Files[path.Clean(dst)] = slices.Clone(data)
	return shell.Result{}
}

func (e *FakeExecutor) scp(args []string) shell.Result {
	var files []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-P", "-i", "-o":
			i++
		case "--":
			files = append(files, args[i+1:]...)
			i = len(args)
		default:
			if !strings.HasPrefix(args[i], "-") {
				files = append(files, args[i])
			}
		}
	}
	if len(files) != 2 {
		return failure("usage: scp source target")
	}

	resolve := func(spec string) (*FakeHost, string, bool) {
		if i := strings.Index(spec, ":"); i >= 0 && !strings.HasPrefix(spec, "/") {
			host := spec[:i]
			if at := strings.LastIndex(host, "@"); at >= 0 {
				host = host[at+1:]
			}
			h, ok := e.Hosts[host]
			return h, spec[i+1:], ok
		}
		return e.Hosts["local"], spec, true
	}
	srcHost, src, ok := resolve(files[0])
	if !ok {
		return shell.Result{ExitCode: 255, Stderr: "ssh: Could not resolve hostname\n"}
	}
	dstHost, dst, ok := resolve(files[1])
	if !ok {
		return shell.Result{ExitCode: 255, Stderr: "ssh: Could not resolve hostname\n"}
	}
	return e.copyFile(srcHost, src, dstHost, dst)
}

// operands strips options (and a "--" terminator) from args.
func operands(args []string) []string {
	var out []string
	for i, a := range args {
		if a == "--" {
			return append(out, args[i+1:]...)
		}
		if !strings.HasPrefix(a, "-") {
			out = append(out, a)
		}
	}
	return out
}

func failure(format string, args ...any) shell.Result {
	return shell.Result{ExitCode: 1, Stderr: fmt.Sprintf(format, args...) + "\n"}
}

var _ shell.Executor = (*FakeExecutor)(nil)
