package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicate(t *testing.T) {
	dup := &mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry"}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"duplicate", dup, true},
		{"wrapped duplicate", fmt.Errorf("insert: %w", dup), true},
		{"other mysql error", &mysql.MySQLError{Number: 1213}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := isDuplicate(tc.err); got != tc.want {
			t.Errorf("%s: isDuplicate() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
