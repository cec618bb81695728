package apperr

// Exit codes returned by the bankfeed binary.
const (
	ExitOK                 = 0
	ExitGeneric            = 1
	ExitUsage              = 2
	ExitMissingCredentials = 3
	ExitStoreUnavailable   = 4
	ExitAuthExpired        = 5
	ExitConsentIncomplete  = 6
	ExitNotFound           = 7
	ExitUnavailable        = 8
	ExitMalformed          = 9
)

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case MissingCredentials:
		return ExitMissingCredentials
	case StoreUnavailable:
		return ExitStoreUnavailable
	case AuthExpired:
		return ExitAuthExpired
	case ConsentIncomplete:
		return ExitConsentIncomplete
	case NotFound:
		return ExitNotFound
	case RateLimited, Unavailable:
		return ExitUnavailable
	case Malformed:
		return ExitMalformed
	}
	return ExitGeneric
}

// Hints returns remediation steps for err, or nil when there are none.
func Hints(err error) []string {
	switch KindOf(err) {
	case MissingCredentials:
		return []string{
			"Add GOCARDLESS_SECRET_ID and GOCARDLESS_SECRET_KEY to your credential file.",
			"Create them in the GoCardless Bank Account Data portal under User secrets.",
			"Run 'bankfeed init' to write a credential file template.",
		}
	case StoreUnavailable:
		return []string{
			"Check that the credential file exists and is readable and writable.",
			"Point credentials.path in bankfeed.yaml at the right file.",
		}
	case AuthExpired:
		return []string{
			"Run 'bankfeed token generate' to issue new tokens.",
		}
	case ConsentIncomplete:
		return []string{
			"Open the authorization link again and finish the bank login.",
			"Wait for the redirect to complete before pressing Enter.",
		}
	case NotFound:
		return []string{
			"Use 'bankfeed find-bank-id' to look up a valid bank id.",
			"Use 'bankfeed list-banks' to see the banks you have connected.",
		}
	case RateLimited:
		return []string{
			"The aggregator limits requests per account per day; try again later.",
		}
	case Unavailable:
		return []string{
			"Check your internet connection.",
			"The aggregator may be down; try again in a few minutes.",
		}
	case Malformed:
		return []string{
			"The aggregator returned data bankfeed does not understand.",
			"Run again with --verbose and report the output.",
		}
	}
	return nil
}
