package directory

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// entryDoc mirrors one statue's stanza in the directory document. Pointer
// fields distinguish "absent" from "zero": an absent field keeps the prior
// value. The controller delivers this schema as JSON, which the YAML parser
// accepts as-is.
type entryDoc struct {
	Emit       *int     `yaml:"emit"`
	Detect     []string `yaml:"detect"`
	Threshold  *float32 `yaml:"threshold"`
	MACAddress *string  `yaml:"mac_address"`
	IPAddress  *string  `yaml:"ip_address"`
}

// ApplyResult reports what a document merge did.
type ApplyResult struct {
	Changed []int    // indices whose emit frequency or threshold moved
	Added   []int    // indices appended for previously unknown names
	Skipped []string // per-entry problems, document still applied around them
}

// ApplyDocument merges a directory document into the directory. See Apply.
func (d *Directory) ApplyDocument(data []byte) error {
	_, err := d.Apply(data)
	return err
}

// Apply merges a directory document into the directory. Entries are matched
// by statue name; fields present in the document overwrite, absent fields
// keep their prior values. Unknown names are appended in document order while
// room remains. A stanza that fails to decode is skipped and reported in the
// result; only an unparseable document is an error. Listeners are notified
// for every entry whose emit frequency or threshold changed.
func (d *Directory) Apply(data []byte) (ApplyResult, error) {
	var res ApplyResult

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return res, fmt.Errorf("directory document: %w", err)
	}
	if len(root.Content) == 0 {
		return res, fmt.Errorf("directory document: empty")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return res, fmt.Errorf("directory document: top level is not a mapping")
	}

	// Mapping nodes keep document order, which fixes the index of appended
	// entries. Every node in the fleet parses the same document, so every
	// node agrees on indices.
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		name := strings.ToLower(strings.TrimSpace(mapping.Content[i].Value))
		if name == "" {
			res.Skipped = append(res.Skipped, "entry with empty name")
			continue
		}

		var doc entryDoc
		if err := mapping.Content[i+1].Decode(&doc); err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("entry %q: %v", name, err))
			continue
		}

		idx := d.indexOf(name)
		if idx < 0 {
			if len(d.entries) >= MaxStatues {
				res.Skipped = append(res.Skipped, fmt.Sprintf("entry %q: directory full (%d entries)", name, MaxStatues))
				continue
			}
			d.entries = append(d.entries, Entry{Name: name})
			idx = len(d.entries) - 1
			res.Added = append(res.Added, idx)
		}

		if d.merge(idx, doc) {
			res.Changed = append(res.Changed, idx)
			d.notify(idx)
		}
	}

	return res, nil
}

func (d *Directory) indexOf(name string) int {
	for i, e := range d.entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// merge overwrites the entry's fields from the document stanza and reports
// whether a detection-relevant field (emit frequency or threshold) changed.
func (d *Directory) merge(idx int, doc entryDoc) bool {
	e := &d.entries[idx]
	changed := false

	if doc.Emit != nil && *doc.Emit != e.EmitFrequency {
		e.EmitFrequency = *doc.Emit
		changed = true
	}
	if doc.Threshold != nil && *doc.Threshold != e.Threshold {
		e.Threshold = *doc.Threshold
		changed = true
	}
	if doc.MACAddress != nil {
		e.MACAddress = *doc.MACAddress
	}
	if doc.IPAddress != nil {
		e.IPAddress = *doc.IPAddress
	}
	if doc.Detect != nil {
		e.Detect = append([]string(nil), doc.Detect...)
	}

	return changed
}
