package conflict

import (
	"fmt"

	"github.com/roastline/menusync/errors"
)

// identityFields lists, per resource, the fields a merged record must retain
// beyond "id" for the result to remain a valid record of its kind.
var identityFields = map[string][]string{
	"menu_items":        {"name", "category_id"},
	"option_values":     {"name", "option_category_id"},
	"menu_categories":   {"name"},
	"option_categories": {"name"},
}

// Validate rejects a resolution decision that cannot be applied safely. An
// invalid decision must not be applied; callers fall back to manual
// resolution.
func Validate(decision Decision, c Context) error {
	switch decision.Action {
	case ActionAcceptRemote, ActionMerge:
		if decision.MergedData == nil {
			return errors.NewValidationError(errors.OpValidate,
				fmt.Errorf("%s decision lacks merged data", decision.Action))
		}
	case ActionKeepLocal, ActionManual:
		return nil
	default:
		return errors.NewValidationError(errors.OpValidate,
			fmt.Errorf("unknown resolution action %q", decision.Action))
	}

	if decision.Action != ActionMerge {
		return nil
	}

	if !present(decision.MergedData, "id") {
		return errors.NewValidationError(errors.OpValidate,
			fmt.Errorf("merge result lost required field id"))
	}
	for _, field := range identityFields[c.Change.Resource] {
		if !present(decision.MergedData, field) {
			return errors.NewValidationError(errors.OpValidate,
				fmt.Errorf("merge result for %s lost required field %s", c.Change.Resource, field))
		}
	}
	return nil
}

func present(data map[string]interface{}, field string) bool {
	v, ok := data[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}
