package compliance

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// FileSource loads newline-delimited addresses from a local file, the
// format produced by the OFAC SDN extraction tooling. Lines starting
// with '#' are comments.
type FileSource struct {
	ListName string
	Path     string
}

func (f FileSource) Name() string { return f.ListName }

func (f FileSource) Load(_ context.Context) ([]string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer file.Close()

	var addrs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return addrs, nil
}

// StaticSource serves a fixed in-memory list. Used for operator
// blocklists supplied directly in configuration, and in tests.
type StaticSource struct {
	ListName  string
	Addresses []string
}

func (s StaticSource) Name() string { return s.ListName }

func (s StaticSource) Load(context.Context) ([]string, error) {
	return s.Addresses, nil
}
