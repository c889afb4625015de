// Package snapper reads snapper configurations and the snapshots they manage.
//
// Snapper keeps one config per managed subvolume in a shell-variable file
// (/etc/snapper/configs/<name>) and stores snapshot n of that subvolume at
// <subvolume>/.snapshots/<n>/snapshot, next to its metadata in info.xml.
package snapper

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// DefaultConfigDir is where snapper keeps its per-subvolume configs.
const DefaultConfigDir = "/etc/snapper/configs"

// SnapshotsDir is the directory below a subvolume holding its snapshots.
const SnapshotsDir = ".snapshots"

// InfoFile is the per-snapshot metadata file.
const InfoFile = "info.xml"

// dateLayout is how info.xml stores dates (always UTC).
const dateLayout = "2006-01-02 15:04:05"

// Snapshot is one snapper snapshot as described by its info.xml.
type Snapshot struct {
	Number      uint
	Type        string // "single", "pre" or "post"
	PreNumber   uint   // only set for "post" snapshots
	Date        time.Time
	Description string
	Cleanup     string
	Userdata    map[string]string
}

// Config is one snapper configuration.
type Config struct {
	Name      string
	Subvolume string
	vars      map[string]string
}

// ReadConfig reads the snapper config called name from dir.
func ReadConfig(dir, name string) (*Config, error) {
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapper config %q: %w", name, err)
	}
	defer f.Close()

	cfg, err := ParseConfig(name, f)
	if err != nil {
		return nil, fmt.Errorf("reading snapper config from %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses a snapper config in its KEY="value" format.
func ParseConfig(name string, r io.Reader) (*Config, error) {
	vars := make(map[string]string)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words, err := shellquote.Split(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(words) != 1 {
			return nil, fmt.Errorf("line %d: expected KEY=\"value\"", lineNo)
		}
		key, value, ok := strings.Cut(words[0], "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: expected KEY=\"value\"", lineNo)
		}
		vars[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	subvolume := vars["SUBVOLUME"]
	if subvolume == "" {
		return nil, fmt.Errorf("SUBVOLUME is not set")
	}

	return &Config{Name: name, Subvolume: subvolume, vars: vars}, nil
}

// Get returns the raw value of a config variable.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// SubvolumePath returns the path of the subvolume this config manages.
func (c *Config) SubvolumePath() string {
	return c.Subvolume
}

// Snapshots lists the config's snapshots in ascending number order.
// The live subvolume (number 0) is never part of the list and entries that are not
// numbered directories are ignored. A numbered directory whose info.xml is missing,
// unreadable or names another number is an error.
func (c *Config) Snapshots() ([]Snapshot, error) {
	dir := filepath.Join(c.Subvolume, SnapshotsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots of %s: %w", c.Name, err)
	}

	var snapshots []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		num, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil || num == 0 {
			continue
		}

		snap, err := readInfo(filepath.Join(dir, e.Name(), InfoFile))
		if err != nil {
			return nil, fmt.Errorf("snapshot %d of %s: %w", num, c.Name, err)
		}
		if snap.Number != uint(num) {
			return nil, fmt.Errorf("snapshot %d of %s: info.xml names snapshot %d", num, c.Name, snap.Number)
		}
		snapshots = append(snapshots, *snap)
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Number < snapshots[j].Number })
	return snapshots, nil
}

func readInfo(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseInfo(f)
}

type infoXML struct {
	XMLName     xml.Name `xml:"snapshot"`
	Type        string   `xml:"type"`
	Num         uint     `xml:"num"`
	PreNum      uint     `xml:"pre_num"`
	Date        string   `xml:"date"`
	Description string   `xml:"description"`
	Cleanup     string   `xml:"cleanup"`
	Userdata    []struct {
		Key   string `xml:"key"`
		Value string `xml:"value"`
	} `xml:"userdata"`
}

// ParseInfo decodes a snapshot's info.xml.
func ParseInfo(r io.Reader) (*Snapshot, error) {
	var info infoXML
	if err := xml.NewDecoder(r).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding info.xml: %w", err)
	}
	if info.Num == 0 {
		return nil, fmt.Errorf("info.xml has no snapshot number")
	}

	snap := &Snapshot{
		Number:      info.Num,
		Type:        info.Type,
		PreNumber:   info.PreNum,
		Description: info.Description,
		Cleanup:     info.Cleanup,
	}
	if info.Date != "" {
		date, err := time.ParseInLocation(dateLayout, info.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing snapshot date: %w", err)
		}
		snap.Date = date
	}
	if len(info.Userdata) > 0 {
		snap.Userdata = make(map[string]string, len(info.Userdata))
		for _, kv := range info.Userdata {
			snap.Userdata[kv.Key] = kv.Value
		}
	}
	return snap, nil
}
