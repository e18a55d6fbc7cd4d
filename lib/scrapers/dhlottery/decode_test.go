package dhlottery

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"
)

func TestDecodeBody(t *testing.T) {
	utf8Body := []byte(`{"msg":"당첨을 축하합니다"}`)
	require.Equal(t, utf8Body, decodeBody(utf8Body))

	// the legacy pages still serve EUC-KR
	eucKR, err := korean.EUCKR.NewEncoder().Bytes(utf8Body)
	require.NoError(t, err)
	require.NotEqual(t, utf8Body, eucKR)
	require.Equal(t, utf8Body, decodeBody(eucKR))
}
