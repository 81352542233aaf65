package content

import (
	_ "embed"

	"github.com/m-mizutani/goerr/v2"
)

//go:embed default.yaml
var defaultStudy []byte

// DefaultStudy returns the bundled study: four guessing warm-ups followed
// by the twenty-one elicitation problems.
func DefaultStudy() (Study, error) {
	study, err := ParseStudy(defaultStudy, nil)
	if err != nil {
		return Study{}, goerr.Wrap(err, "failed to parse bundled study")
	}
	if vr := ValidateStudy(study); !vr.Valid() {
		return Study{}, goerr.New("bundled study is invalid", goerr.V("errors", vr.Error()))
	}
	return study, nil
}
