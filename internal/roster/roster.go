// Package roster parses the uploaded CSV of profiles.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

const (
	idColumn    = "profile_id"
	proxyColumn = "proxy"
)

// ErrNoIDColumn is returned when the header lacks a profile_id column
var ErrNoIDColumn = errors.New("csv header has no profile_id column")

// Parse reads a header row followed by profile rows. Rows without an id are
// dropped, repeated ids keep their first row, and a non-empty globalProxy
// replaces every row's proxy.
func Parse(r io.Reader, globalProxy string) ([]models.Profile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return []models.Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	idIdx, proxyIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case idColumn:
			idIdx = i
		case proxyColumn:
			proxyIdx = i
		}
	}
	if idIdx < 0 {
		return nil, ErrNoIDColumn
	}

	globalProxy = strings.TrimSpace(globalProxy)
	seen := map[string]bool{}
	profiles := []models.Profile{}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		id := field(record, idIdx)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		proxy := globalProxy
		if proxy == "" {
			proxy = field(record, proxyIdx)
		}

		profiles = append(profiles, models.Profile{ProfileID: id, Proxy: proxy})
	}

	return profiles, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
