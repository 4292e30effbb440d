package errs

import (
	"fmt"
)

func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return ErrInternalServer.WithDetail(fmt.Sprintf("panic: %v", r)).WrapMsg("")
}
