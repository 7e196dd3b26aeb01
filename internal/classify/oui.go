package classify

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// RandomMAC is the vendor reported for locally administered addresses.
const RandomMAC = "Random MAC"

//go:generate go run ../../tools/oui-gen -out oui.txt

//go:embed oui.txt
var builtinOUI string

// IEEE registry hex line: "00-00-5E   (hex)		USC INFORMATION SCIENCES INST".
// MA-M and MA-S entries carry extra nibbles ("00-55-DA-9").
var hexLineRegex = regexp.MustCompile(`^([0-9A-F]{2})-([0-9A-F]{2})-([0-9A-F]{2})([-0-9A-F]*)\s+\(hex\)\s+(.+)$`)

// OUITable maps raw hex prefixes of 6, 7 or 9 digits to manufacturers.
type OUITable struct {
	entries map[string]string
}

// ParseOUI reads IEEE registry text (oui.txt, mam.txt, oui36.txt).
func ParseOUI(r io.Reader) (*OUITable, error) {
	t := &OUITable{entries: make(map[string]string)}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := hexLineRegex.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		prefix := m[1] + m[2] + m[3] + strings.ReplaceAll(m[4], "-", "")
		t.entries[prefix] = strings.TrimSpace(m[5])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read oui registry: %w", err)
	}
	return t, nil
}

// Len returns the number of prefixes.
func (t *OUITable) Len() int { return len(t.entries) }

// Lookup returns the manufacturer for mac, RandomMAC for locally
// administered addresses, or "" when the prefix is unknown. The longest
// registered prefix wins.
func (t *OUITable) Lookup(mac string) string {
	raw := strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac)
	raw = strings.ToUpper(raw)
	if len(raw) < 6 {
		return ""
	}

	// Bit 1 of the first octet marks a locally administered address.
	switch raw[1] {
	case '2', '6', 'A', 'E':
		return RandomMAC
	}

	for _, n := range []int{9, 7, 6} {
		if len(raw) < n {
			continue
		}
		if v, ok := t.entries[raw[:n]]; ok {
			return v
		}
	}
	return ""
}

// Filter returns the entries whose manufacturer contains any of keywords,
// case-insensitively.
func (t *OUITable) Filter(keywords []string) *OUITable {
	out := &OUITable{entries: make(map[string]string)}
	for prefix, org := range t.entries {
		if containsAny(org, keywords) {
			out.entries[prefix] = org
		}
	}
	return out
}

// WriteTo writes t in registry format, ordered by prefix, so ParseOUI reads
// it back unchanged.
func (t *OUITable) WriteTo(w io.Writer) (int64, error) {
	prefixes := make([]string, 0, len(t.entries))
	for p := range t.entries {
		prefixes = append(prefixes, p)
	}
	slices.Sort(prefixes)

	bw := bufio.NewWriter(w)
	var n int64
	for _, p := range prefixes {
		hex := p[0:2] + "-" + p[2:4] + "-" + p[4:6]
		if len(p) > 6 {
			hex += "-" + p[6:]
		}
		m, err := fmt.Fprintf(bw, "%-10s (hex)\t\t%s\n", hex, t.entries[p])
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// VendorKeywords lists the vendor substrings the classification table
// matches on.
func VendorKeywords() []string {
	var out []string
	for _, p := range Patterns {
		for _, v := range p.Vendors {
			if !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	return out
}

var (
	ouiMu    sync.RWMutex
	ouiTable *OUITable
	ouiOnce  sync.Once
)

func builtinTable() *OUITable {
	t, err := ParseOUI(strings.NewReader(builtinOUI))
	if err != nil {
		return &OUITable{entries: map[string]string{}}
	}
	return t
}

func table() *OUITable {
	ouiOnce.Do(func() {
		t := builtinTable()
		ouiMu.Lock()
		if ouiTable == nil {
			ouiTable = t
		}
		ouiMu.Unlock()
	})
	ouiMu.RLock()
	defer ouiMu.RUnlock()
	return ouiTable
}

// SetOUITable replaces the vendor table used by VendorForMAC. Nil restores
// the built-in table.
func SetOUITable(t *OUITable) {
	table()
	if t == nil {
		t = builtinTable()
	}
	ouiMu.Lock()
	ouiTable = t
	ouiMu.Unlock()
}

// VendorForMAC looks mac up in the active vendor table.
func VendorForMAC(mac string) string {
	if mac == "" {
		return ""
	}
	return table().Lookup(mac)
}
