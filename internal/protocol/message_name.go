package protocol

import "strings"

// sF2pPremiumUserPermissionInput/Output spell the one name the normalizer
// cannot derive mechanically; the codec's own tables spell it this way.
const (
	sF2pPremiumUserPermissionInput  = "sF2pPremiumUserPermission"
	sF2pPremiumUserPermissionOutput = "S_F2P_PremiumUser_Permission"
)

// NormalizeMessageName canonicalizes a message name the way createHook
// resolves caller-supplied names before looking them up in the codec's
// name→code map:
//
//   - the literal "sF2pPremiumUserPermission" maps to
//     "S_F2P_PremiumUser_Permission" (special case, not derivable from the
//     general rule below);
//   - otherwise, if the name contains no underscore, every uppercase
//     letter is prefixed with an underscore and the result is uppercased;
//   - otherwise the name passes through unchanged.
func NormalizeMessageName(name string) string {
	if name == sF2pPremiumUserPermissionInput {
		return sF2pPremiumUserPermissionOutput
	}

	if strings.Contains(name, "_") {
		return name
	}

	var b strings.Builder
	b.Grow(len(name) + 4)
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
