package btrfs

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// creationTimeLayout is how `btrfs subvolume show` prints the creation time.
const creationTimeLayout = "2006-01-02 15:04:05 -0700"

// Subvolume is the identity of a btrfs subvolume as reported by `btrfs subvolume show`.
// Empty UUID fields mean the subvolume has no such UUID ("-" in the tool output).
type Subvolume struct {
	Path         string
	UUID         string
	ParentUUID   string
	ReceivedUUID string
	CreationTime time.Time
	ReadOnly     bool
}

// ParseShow parses the output of `btrfs subvolume show <path>`.
//
// The output starts with the subvolume path followed by "Key: value" lines:
//
//	@/.snapshots/12/snapshot
//		Name: 			snapshot
//		UUID: 			4b2c3e1a-...
//		Parent UUID: 		-
//		Received UUID: 		-
//		Creation time: 		2024-01-15 10:30:00 +0100
//		Flags: 			readonly
//		Snapshot(s):
func ParseShow(output string) (*Subvolume, error) {
	sv := &Subvolume{}
	seenUUID := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			sv.Path = line
			first = false
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "UUID":
			sv.UUID, err = parseUUID(value)
			seenUUID = true
		case "Parent UUID":
			sv.ParentUUID, err = parseUUID(value)
		case "Received UUID":
			sv.ReceivedUUID, err = parseUUID(value)
		case "Creation time":
			if value != "-" {
				sv.CreationTime, err = time.Parse(creationTimeLayout, value)
			}
		case "Flags":
			sv.ReadOnly = hasFlag(value, "readonly")
		case "Snapshot(s)":
			// The list of snapshots follows; nothing after it is of interest.
			return finishShow(sv, seenUUID)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading subvolume show output: %w", err)
	}

	return finishShow(sv, seenUUID)
}

func finishShow(sv *Subvolume, seenUUID bool) (*Subvolume, error) {
	if !seenUUID {
		return nil, fmt.Errorf("no UUID in subvolume show output")
	}
	return sv, nil
}

// parseUUID normalizes a UUID field; "-" means none.
func parseUUID(value string) (string, error) {
	if value == "" || value == "-" {
		return "", nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func hasFlag(flags, flag string) bool {
	for _, f := range strings.FieldsFunc(flags, func(r rune) bool { return r == ',' || r == ' ' }) {
		if f == flag {
			return true
		}
	}
	return false
}

// FormatShow renders a Subvolume the way `btrfs subvolume show` does.
// It is the inverse of ParseShow for the fields ParseShow reads.
func FormatShow(sv *Subvolume) string {
	dash := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	created := "-"
	if !sv.CreationTime.IsZero() {
		created = sv.CreationTime.Format(creationTimeLayout)
	}
	flags := "-"
	if sv.ReadOnly {
		flags = "readonly"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", sv.Path)
	fmt.Fprintf(&b, "\tName: \t\t\t%s\n", lastElem(sv.Path))
	fmt.Fprintf(&b, "\tUUID: \t\t\t%s\n", dash(sv.UUID))
	fmt.Fprintf(&b, "\tParent UUID: \t\t%s\n", dash(sv.ParentUUID))
	fmt.Fprintf(&b, "\tReceived UUID: \t\t%s\n", dash(sv.ReceivedUUID))
	fmt.Fprintf(&b, "\tCreation time: \t\t%s\n", created)
	fmt.Fprintf(&b, "\tFlags: \t\t\t%s\n", flags)
	fmt.Fprintf(&b, "\tSnapshot(s):\n")
	return b.String()
}

func lastElem(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
