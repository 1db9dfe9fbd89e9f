package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// confirm asks a yes/no question. Anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, errors.Wrap(err, "failed to read answer")
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

var errAborted = errors.New("aborted")

// confirmOrAbort asks before a destructive action unless --yes is set
func (g *globals) confirmOrAbort(out io.Writer, question string) error {
	if g.cfg.AssumeYes {
		return nil
	}
	ok, err := confirm(g.in, out, question)
	if err != nil {
		return err
	}
	if !ok {
		return errAborted
	}
	return nil
}
