package simulator

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethsim/tx-simulator/pkg/engine"
)

// formatTrace renders a call-frame tree as indented text, one frame per line.
func formatTrace(root *engine.CallFrame) (string, error) {
	var sb strings.Builder

	if err := renderTrace(&sb, root); err != nil {
		return "", err
	}

	return sb.String(), nil
}

// renderTrace writes the tree rooted at root to w.
func renderTrace(w io.Writer, root *engine.CallFrame) error {
	if err := writeFrame(w, root, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrTraceFormat, err)
	}

	return nil
}

func writeFrame(w io.Writer, frame *engine.CallFrame, depth int) error {
	value := ""
	if frame.Value != nil && frame.Value.Sign() > 0 {
		value = fmt.Sprintf(" [value: %s]", frame.Value.String())
	}

	if _, err := fmt.Fprintf(w, "%s%s %s -> %s%s\n", strings.Repeat("  ", depth), frame.Kind, frame.From.Hex(), frame.To.Hex(), value); err != nil {
		return err
	}

	for _, sub := range frame.Calls {
		if err := writeFrame(w, sub, depth+1); err != nil {
			return err
		}
	}

	return nil
}
