package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"grimm.is/ztinspect/internal/generator"
)

// RunInstructions prints the manual steps for applying an export.
func RunInstructions(w io.Writer, platform string) error {
	text, err := generator.Instructions(platform)
	if err != nil {
		return err
	}
	plat, _ := generator.ParsePlatform(platform)
	color.New(color.Bold).Fprintf(w, "%s\n\n", plat.DisplayName())
	_, err = fmt.Fprint(w, text)
	return err
}
