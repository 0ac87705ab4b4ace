package util

import (
	"errors"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// GetErrorList coerces err into a gqlerror.List, wrapping plain errors
// so they can be sent to the client as GraphQL errors.
func GetErrorList(err error) gqlerror.List {
	if err == nil {
		return nil
	}

	var list gqlerror.List
	if errors.As(err, &list) {
		return list
	}

	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlerror.List{gqlErr}
	}

	return gqlerror.List{gqlerror.WrapPath(nil, err)}
}
