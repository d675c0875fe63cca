package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kiesman99/slicer/pkg/tile"
)

var errNoInput = errors.New("no input")

// prompter asks for the values that were not given as flags or config.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// line prints label and returns the next input line without surrounding
// whitespace.
func (p *prompter) line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	s, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		if err == io.EOF {
			return "", errNoInput
		}
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) source() (string, error) {
	for {
		s, err := p.line("Image: ")
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
	}
}

func (p *prompter) maxZoom() (int, error) {
	for {
		s, err := p.line("Zoom Level: ")
		if err != nil {
			return 0, err
		}
		zoom, err := strconv.Atoi(s)
		if err == nil && zoom >= 0 && zoom <= tile.MaxZoom {
			return zoom, nil
		}
		fmt.Fprintf(p.out, "Zoom level must be a whole number between 0 and %d.\n", tile.MaxZoom)
	}
}

// extension returns the chosen tile extension. An empty answer selects the
// default.
func (p *prompter) extension() (string, error) {
	for {
		s, err := p.line(fmt.Sprintf("End File Type [%s]: ", tile.DefaultExtension))
		if err != nil {
			return "", err
		}
		if _, err := tile.ParseFormat(s); err != nil {
			fmt.Fprintf(p.out, "%v\n", err)
			continue
		}
		return tile.NormalizeExtension(s), nil
	}
}
