// Command oui-gen rebuilds the vendor table embedded by the classifier from
// the IEEE registry. Only manufacturers the classification table matches on
// are kept unless -all is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"grimm.is/ztinspect/internal/classify"
	"grimm.is/ztinspect/internal/engine"
)

const registryURL = "https://standards-oui.ieee.org/oui/oui.txt"

const header = `OUI/MA-L                                                    Organization
company_id                                                  Organization
                                                            Address

`

func main() {
	in := flag.String("in", registryURL, "Registry file or URL")
	out := flag.String("out", "internal/classify/oui.txt", "Output file")
	all := flag.Bool("all", false, "Keep every manufacturer")
	flag.Parse()

	start := time.Now()
	tbl, err := load(*in)
	if err != nil {
		fmt.Printf("Failed to load OUI data: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Read %d entries in %v\n", tbl.Len(), time.Since(start))

	if !*all {
		tbl = tbl.Filter(classify.VendorKeywords())
	}

	var b strings.Builder
	b.WriteString(header)
	if _, err := tbl.WriteTo(&b); err != nil {
		fmt.Printf("Failed to encode: %v\n", err)
		os.Exit(1)
	}
	if err := engine.WriteFileAtomic(*out, []byte(b.String()), 0o644); err != nil {
		fmt.Printf("Failed to save: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved %d entries to %s\n", tbl.Len(), *out)
}

func load(src string) (*classify.OUITable, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		f, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return classify.ParseOUI(f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	// The registry rejects requests without a browser-like agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; oui-gen)")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: %s", src, resp.Status)
	}
	return classify.ParseOUI(resp.Body)
}
