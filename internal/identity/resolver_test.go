package identity

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antoniostano/voicegate/internal/apperrors"
)

var (
	roomPattern     = regexp.MustCompile(`^voice-assistant-room_\d+$`)
	identityPattern = regexp.MustCompile(`^voice_assistant_user_\d+$`)
)

func TestResolveGeneratesDistinctlyPrefixedDefaults(t *testing.T) {
	req := require.New(t)
	r := NewResolver(DefaultSuffixSpace)

	for i := 0; i < 50; i++ {
		got, err := r.Resolve("", "")
		req.NoError(err)
		req.Regexp(roomPattern, got.RoomName)
		req.Regexp(identityPattern, got.ParticipantIdentity)
		req.False(strings.HasPrefix(got.RoomName, IdentityPrefix))
		req.False(strings.HasPrefix(got.ParticipantIdentity, RoomPrefix))
	}
}

func TestResolveKeepsExplicitValues(t *testing.T) {
	req := require.New(t)
	r := NewResolver(DefaultSuffixSpace)

	first, err := r.Resolve("  kitchen ", "alice")
	req.NoError(err)
	second, err := r.Resolve("  kitchen ", "alice")
	req.NoError(err)

	req.Equal(Resolved{RoomName: "  kitchen ", ParticipantIdentity: "alice"}, first)
	req.Equal(first, second)
}

func TestResolveTreatsBlankAsAbsent(t *testing.T) {
	got, err := NewResolver(DefaultSuffixSpace).Resolve(" \t ", "   ")
	require.NoError(t, err)
	require.Regexp(t, roomPattern, got.RoomName)
	require.Regexp(t, identityPattern, got.ParticipantIdentity)
}

func TestResolveGeneratedValuesDiffer(t *testing.T) {
	r := NewResolver(DefaultSuffixSpace)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		got, err := r.Resolve("", "")
		require.NoError(t, err)
		seen[got.RoomName] = true
	}
	// 20 draws from a million values: a full collision set is practically impossible.
	require.Greater(t, len(seen), 1)
}

func TestResolveUsesSuffixSpace(t *testing.T) {
	r := NewResolver(10)
	var bounds []int64
	r.randInt = func(n int64) (int64, error) {
		bounds = append(bounds, n)
		return 7, nil
	}

	got, err := r.Resolve("", "")
	require.NoError(t, err)
	require.Equal(t, "voice-assistant-room_7", got.RoomName)
	require.Equal(t, "voice_assistant_user_7", got.ParticipantIdentity)
	require.Equal(t, []int64{10, 10}, bounds)
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	r := NewResolver(DefaultSuffixSpace)
	cases := map[string][2]string{
		"invalid utf8 room":     {"room\xff", ""},
		"invalid utf8 identity": {"", "\xc3\x28"},
		"control characters":    {"room\x00name", ""},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(in[0], in[1])
			require.Error(t, err)
			require.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}
}

func TestResolveRandomFailure(t *testing.T) {
	r := NewResolver(DefaultSuffixSpace)
	r.randInt = func(int64) (int64, error) { return 0, errors.New("entropy exhausted") }

	_, err := r.Resolve("", "bob")
	require.Error(t, err)
	require.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
}
