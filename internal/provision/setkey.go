package provision

import (
	"sort"
	"strings"
)

// keySeparator joins user IDs into a canonical set key. Unit separator cannot
// appear in the user IDs issued by the identity provider.
const keySeparator = "\x1f"

// ExpectedParticipants returns the sorted, deduplicated union of the member
// and the leader set. This is the identity of a leader-private conversation.
func ExpectedParticipants(memberUserID string, leaderUserIDs []string) []string {
	seen := make(map[string]struct{}, len(leaderUserIDs)+1)
	out := make([]string, 0, len(leaderUserIDs)+1)
	for _, id := range append([]string{memberUserID}, leaderUserIDs...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetKey canonicalizes a participant user ID list into a comparable key.
// Order-independent: any permutation of the same set yields the same key.
func SetKey(userIDs []string) string {
	return strings.Join(ExpectedParticipantsOf(userIDs), keySeparator)
}

// ExpectedParticipantsOf sorts and deduplicates a user ID list in place of a
// member/leader split.
func ExpectedParticipantsOf(userIDs []string) []string {
	if len(userIDs) == 0 {
		return nil
	}
	return ExpectedParticipants(userIDs[0], userIDs[1:])
}

// sameSet reports whether two user ID lists contain exactly the same users.
func sameSet(a, b []string) bool {
	return SetKey(a) == SetKey(b)
}
