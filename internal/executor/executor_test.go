package executor

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"

	"solana-copy-bot/internal/models"
	"solana-copy-bot/internal/wallet"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockChainClient struct {
	submitted []string
	failures  int // 前 failures 次 Submit 返回错误
	calls     int
}

func (m *mockChainClient) GetSignatures(_ context.Context, _ string, _ int) ([]models.SignatureInfo, error) {
	return nil, nil
}

func (m *mockChainClient) GetTransaction(_ context.Context, _ string) (*models.TransactionDetail, error) {
	return nil, nil
}

func (m *mockChainClient) GetBalance(_ context.Context, _ string) (uint64, error) {
	return 0, nil
}

func (m *mockChainClient) Submit(_ context.Context, signedTx string) (string, error) {
	m.calls++
	if m.calls <= m.failures {
		return "", errors.New("node busy")
	}
	m.submitted = append(m.submitted, signedTx)
	return "chain-signature", nil
}

func testSigner(t *testing.T) *wallet.Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 7)
	}
	signer, err := wallet.ResolveSigner(base58.Encode(seed))
	require.NoError(t, err)
	return signer
}

// unsignedTx 构造一笔单签名者的裸交易: 1字节签名数量 + 64字节空签名位 + 消息体。
func unsignedTx(message []byte) string {
	raw := make([]byte, 0, 1+64+len(message))
	raw = append(raw, 0x01)
	raw = append(raw, make([]byte, 64)...)
	raw = append(raw, message...)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestExecuteSignsAndSubmits(t *testing.T) {
	chainMock := &mockChainClient{}
	signer := testSigner(t)
	exec := NewExecutor(chainMock, signer, 3, false, zap.NewNop())

	message := []byte("swap message bytes")
	submitted, err := exec.Execute(context.Background(), unsignedTx(message))
	require.NoError(t, err)
	assert.Equal(t, "chain-signature", submitted)

	// 验证填入签名位的是对消息体的有效签名
	require.Len(t, chainMock.submitted, 1)
	raw, err := base64.StdEncoding.DecodeString(chainMock.submitted[0])
	require.NoError(t, err)
	sig := raw[1 : 1+64]
	pub, err := base58.Decode(signer.PublicKey())
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), raw[1+64:], sig))
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	chainMock := &mockChainClient{failures: 2}
	exec := NewExecutor(chainMock, testSigner(t), 3, false, zap.NewNop())

	_, err := exec.Execute(context.Background(), unsignedTx([]byte("msg")))
	require.NoError(t, err)
	assert.Equal(t, 3, chainMock.calls)
}

func TestExecuteGivesUpAfterBoundedRetries(t *testing.T) {
	chainMock := &mockChainClient{failures: 100}
	exec := NewExecutor(chainMock, testSigner(t), 3, false, zap.NewNop())

	_, err := exec.Execute(context.Background(), unsignedTx([]byte("msg")))
	require.Error(t, err)
	assert.Equal(t, 3, chainMock.calls, "retries are bounded")
}

func TestExecuteDryRunSkipsBroadcast(t *testing.T) {
	chainMock := &mockChainClient{}
	signer := testSigner(t)
	exec := NewExecutor(chainMock, signer, 3, true, zap.NewNop())

	message := []byte("dry run message")
	signature, err := exec.Execute(context.Background(), unsignedTx(message))
	require.NoError(t, err)
	assert.Zero(t, chainMock.calls, "dry run must not touch the chain")

	// 返回的是真实的would-be签名, 不是占位符
	sigBytes, err := base58.Decode(signature)
	require.NoError(t, err)
	pub, err := base58.Decode(signer.PublicKey())
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), message, sigBytes))
}

func TestExecuteRejectsMalformedTransaction(t *testing.T) {
	exec := NewExecutor(&mockChainClient{}, testSigner(t), 3, false, zap.NewNop())

	cases := []string{
		"not base64!!!",
		base64.StdEncoding.EncodeToString([]byte{}),         // 空
		base64.StdEncoding.EncodeToString([]byte{0x00}),     // 0个签名
		base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}), // 声明1个签名但字节不够
	}
	for _, tx := range cases {
		_, err := exec.Execute(context.Background(), tx)
		assert.Error(t, err, "input: %q", tx)
	}
}

func TestDecodeCompactU16(t *testing.T) {
	cases := []struct {
		name      string
		data      []byte
		value     int
		bytesRead int
		wantErr   bool
	}{
		{name: "single byte", data: []byte{0x05}, value: 5, bytesRead: 1},
		{name: "zero", data: []byte{0x00}, value: 0, bytesRead: 1},
		{name: "max single byte", data: []byte{0x7f}, value: 127, bytesRead: 1},
		{name: "two bytes", data: []byte{0x80, 0x01}, value: 128, bytesRead: 2},
		{name: "two bytes larger", data: []byte{0xff, 0x01}, value: 255, bytesRead: 2},
		{name: "three bytes", data: []byte{0x80, 0x80, 0x01}, value: 16384, bytesRead: 3},
		{name: "empty input", data: []byte{}, wantErr: true},
		{name: "truncated prefix", data: []byte{0x80}, wantErr: true},
		{name: "over three bytes", data: []byte{0x80, 0x80, 0x80, 0x01}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			value, bytesRead, err := decodeCompactU16(tc.data)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.value, value)
			assert.Equal(t, tc.bytesRead, bytesRead)
		})
	}
}
