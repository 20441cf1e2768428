package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"timetrack/pkg/util"
)

func TestIssueToken(t *testing.T) {
	testCases := []struct {
		name    string
		secret  string
		userID  int
		wantErr bool
	}{
		{"valid", "s3cret", 7, false},
		{"missing user", "s3cret", 0, true},
		{"missing secret", "", 7, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := &cobra.Command{}
			cmd.SetOut(&out)

			err := issueToken(cmd, tc.secret, tc.userID, time.Hour)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Expected error=%v, got %v", tc.wantErr, err)
			}
			if tc.wantErr {
				return
			}

			userID, err := util.ParseJWT(strings.TrimSpace(out.String()), tc.secret)
			if err != nil {
				t.Fatalf("Issued token does not parse: %v", err)
			}
			if userID != tc.userID {
				t.Errorf("Expected user %d, got %d", tc.userID, userID)
			}
		})
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{{"migrate"}, {"token"}, {"outbox", "replay"}} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("Expected command %v to be registered, got %v (%v)", path, cmd, err)
		}
	}
}
