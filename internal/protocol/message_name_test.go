package protocol

import "testing"

func TestNormalizeMessageName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"sF2pPremiumUserPermission", "S_F2P_PremiumUser_Permission"},
		{"sLogin", "S_LOGIN"},
		{"S_LOGIN", "S_LOGIN"},
		{"already_snake_case", "already_snake_case"},
		{"cCheckVersion", "C_CHECK_VERSION"},
	}
	for _, c := range cases {
		if got := NormalizeMessageName(c.in); got != c.want {
			t.Errorf("NormalizeMessageName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
