package workflow

import (
	"github.com/cockroachdb/errors"

	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// BuildApplicationMachine creates the application machine for the configured categories.
// Empty lists fall back to the defaults.
func BuildApplicationMachine(known, courseApproval []int) (*domainwf.ApplicationMachine, error) {
	if len(known) == 0 {
		known = domainwf.DefaultKnownCategories
	}
	if courseApproval == nil {
		courseApproval = domainwf.DefaultCourseApprovalCategories
	}

	policy, err := domainwf.NewCategoryPolicy(known, courseApproval)
	if err != nil {
		return nil, errors.Wrap(err, "build category policy")
	}
	return domainwf.NewApplicationMachine(policy), nil
}
