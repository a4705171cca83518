package parser

import (
	"fmt"
	"strings"

	"github.com/FACorreiaa/statement-recon/pkg/fold"
)

// Block is the group of text lines that describes one candidate transaction.
// Lines[0] holds the date column; the rest are continuation lines.
type Block struct {
	Index int
	Page  int // 1-based page of the first line
	Lines []string
}

// Text joins the block lines with a single space
func (b Block) Text() string {
	return strings.Join(b.Lines, " ")
}

// SegmentationError means the document has no recognisable transaction lines
type SegmentationError struct {
	Pages  int
	Layout string
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("no transaction lines found in %d page(s) using layout %s", e.Pages, e.Layout)
}

// Segment splits page-ordered text into blocks, one per date line.
// Lines before the first date line of each page are headers and are dropped.
// Lines that begin with a stop prefix close the open block without joining it.
func Segment(pages []string, layout Layout) ([]Block, error) {
	var (
		blocks    []Block
		current   *Block
		inSection = !layout.sectioned()
	)

	flush := func() {
		if current != nil {
			current.Index = len(blocks)
			blocks = append(blocks, *current)
			current = nil
		}
	}

	for pageIdx, page := range pages {
		// page headers must not join the last block of the previous page
		flush()
		for _, raw := range strings.Split(page, "\n") {
			line := strings.Join(strings.Fields(raw), " ")
			if line == "" {
				continue
			}
			folded := fold.Upper(line)

			if layout.sectioned() {
				if layout.isSectionStart(folded) {
					flush()
					inSection = true
					continue
				}
				if layout.isSectionEnd(folded) {
					flush()
					inSection = false
					continue
				}
				if !inSection {
					continue
				}
			}

			if layout.isStop(folded) {
				flush()
				continue
			}

			if layout.StartsBlock(line) {
				flush()
				current = &Block{Page: pageIdx + 1, Lines: []string{line}}
				continue
			}

			if current != nil {
				current.Lines = append(current.Lines, line)
			}
		}
	}
	flush()

	if len(blocks) == 0 {
		return nil, &SegmentationError{Pages: len(pages), Layout: layout.Name}
	}
	return blocks, nil
}
