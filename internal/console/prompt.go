package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/ledgerline/bankfeed/internal/model"
)

// ErrAborted is returned when the operator quits a prompt or input ends.
var ErrAborted = errors.New("aborted by user")

var (
	headPrinter = color.New(color.Bold)
	linkPrinter = color.New(color.FgHiBlue, color.Underline)
)

// Prompter reads line-oriented answers from the operator.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter returns a Prompter reading from in and writing prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// readLine returns the next trimmed line. Input ending without a line, or a
// lone "q", is ErrAborted.
func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", fmt.Errorf("reading input: %w", err)
	}
	line = strings.TrimSpace(line)
	if strings.EqualFold(line, "q") {
		return "", ErrAborted
	}
	return line, nil
}

// Ask prints question and returns the answer.
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", question)
	return p.readLine()
}

// Choose prints a numbered menu and returns the 1-based choice. Invalid
// answers are asked again.
func (p *Prompter) Choose(title string, options []string) (int, error) {
	for {
		headPrinter.Fprintf(p.out, "\n%s\n", title)
		for i, o := range options {
			fmt.Fprintf(p.out, "%d. %s\n", i+1, o)
		}
		n, err := p.Number(fmt.Sprintf("Enter your choice (1-%d)", len(options)), 1, len(options))
		if errors.Is(err, errOutOfRange) {
			continue
		}
		return n, err
	}
}

var errOutOfRange = errors.New("out of range")

// Number asks for an integer in [lo, hi]. A non-number or out of range answer
// prints a notice and returns errOutOfRange so callers can re-ask.
func (p *Prompter) Number(question string, lo, hi int) (int, error) {
	answer, err := p.Ask(question)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < lo || n > hi {
		fmt.Fprintf(p.out, "Please enter a number between %d and %d.\n", lo, hi)
		return 0, errOutOfRange
	}
	return n, nil
}

// SelectAccount lists accounts and returns the chosen one. ok is false when
// the operator picks 0 to go back.
func (p *Prompter) SelectAccount(accounts []model.Account) (model.Account, bool, error) {
	Accounts(p.out, accounts)
	for {
		n, err := p.Number("Select account number (or 0 to go back)", 0, len(accounts))
		if errors.Is(err, errOutOfRange) {
			continue
		}
		if err != nil {
			return model.Account{}, false, err
		}
		if n == 0 {
			return model.Account{}, false, nil
		}
		return accounts[n-1], true, nil
	}
}

// SelectInstitution asks for a row number of a listing printed by Page and
// confirms the choice. ok is false when the operator picks 0 or declines.
func (p *Prompter) SelectInstitution(institutions []model.Institution) (model.Institution, bool, error) {
	for {
		n, err := p.Number("Enter the number of your bank (or 0 to go back)", 0, len(institutions))
		if errors.Is(err, errOutOfRange) {
			continue
		}
		if err != nil || n == 0 {
			return model.Institution{}, false, err
		}
		inst := institutions[n-1]
		headPrinter.Fprintln(p.out, "\nSelected bank")
		fmt.Fprintf(p.out, "Name: %s\nID: %s\nCountry: %s\n", inst.Name, inst.ID, inst.PrimaryCountry())
		ok, err := p.Confirm("Confirm selection?")
		if err != nil || !ok {
			return model.Institution{}, false, err
		}
		return inst, true, nil
	}
}

// Confirm asks a yes/no question. Anything but y or yes is no.
func (p *Prompter) Confirm(question string) (bool, error) {
	answer, err := p.Ask(question + " (y/n)")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Page prints institutions pageSize at a time, waiting for Enter between
// pages. "q" stops early without an error.
func (p *Prompter) Page(institutions []model.Institution, pageSize int) error {
	if len(institutions) == 0 {
		fmt.Fprintln(p.out, "No banks found matching your criteria.")
		return nil
	}
	if pageSize <= 0 {
		pageSize = len(institutions)
	}
	for start := 0; start < len(institutions); start += pageSize {
		end := min(start+pageSize, len(institutions))
		Institutions(p.out, institutions[start:end], start+1)
		if end == len(institutions) {
			break
		}
		fmt.Fprintf(p.out, "Showing %d of %d. Press Enter for more results, q to stop...", end, len(institutions))
		if _, err := p.readLine(); err != nil {
			if errors.Is(err, ErrAborted) {
				fmt.Fprintln(p.out)
				return nil
			}
			return err
		}
	}
	return nil
}

// Pause waits for Enter.
func (p *Prompter) Pause() error {
	fmt.Fprint(p.out, "\nPress Enter to continue...")
	_, err := p.readLine()
	return err
}

// AwaitConsent prints the authorization link and blocks until the operator
// confirms the browser flow is done. There is no timeout.
func (p *Prompter) AwaitConsent(ctx context.Context, s model.ConsentSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	headPrinter.Fprintln(p.out, "\nBank authorization required")
	fmt.Fprintln(p.out, "Please complete these steps:")
	fmt.Fprintln(p.out, "1. Visit this link in your browser:")
	linkPrinter.Fprintf(p.out, "\n%s\n\n", s.Link)
	fmt.Fprintln(p.out, "2. Log in to your bank account")
	fmt.Fprintln(p.out, "3. Authorize access to your account data")
	fmt.Fprintln(p.out, "4. You will be redirected to the confirmation page, this is expected")
	fmt.Fprint(p.out, "\nPress Enter after completing the authorization process (q to abort)...")
	_, err := p.readLine()
	return err
}
