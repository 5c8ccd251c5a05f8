package extractor

import (
	"sort"
	"strconv"

	"solana-copy-bot/internal/models"

	"go.uber.org/zap"
)

// minSpendLamports filters out fee-only and dust movements so that ordinary
// program interactions are not mistaken for buys.
const minSpendLamports = 10_000

// Extractor classifies source-wallet transactions. A transaction is a buy
// when, netted across its balance changes, the watched wallet's base currency
// decreased and some non-base token balance increased. This is a best-effort
// heuristic over an open-ended instruction format; the one hard guarantee is
// that a sell (token down, base up) is never reported as a buy.
type Extractor struct {
	watchedWallet string
	logger        *zap.Logger
}

// New creates an Extractor for the given watched wallet.
func New(watchedWallet string, logger *zap.Logger) *Extractor {
	return &Extractor{watchedWallet: watchedWallet, logger: logger}
}

// Extract returns at most one TradeIntent per distinct acquired mint.
// Transfer-only transactions, sells, failed transactions and anything the
// heuristic cannot read produce an empty result.
func (e *Extractor) Extract(detail *models.TransactionDetail, signature string) []models.TradeIntent {
	if detail == nil || detail.Meta == nil {
		return nil
	}
	meta := detail.Meta
	if meta.Err != nil {
		return nil // failed on chain, nothing was swapped
	}

	walletIndex := -1
	for i, key := range detail.Transaction.Message.AccountKeys {
		if key.Pubkey == e.watchedWallet {
			walletIndex = i
			break
		}
	}
	if walletIndex < 0 || walletIndex >= len(meta.PreBalances) || walletIndex >= len(meta.PostBalances) {
		return nil
	}

	// Native lamports spent by the wallet, net of the transaction fee when the
	// wallet paid it (fee payer is always account 0).
	spent := int64(meta.PreBalances[walletIndex]) - int64(meta.PostBalances[walletIndex])
	if walletIndex == 0 {
		spent -= int64(meta.Fee)
	}

	deltas, decimals := e.tokenDeltas(meta)

	// Wrapped SOL movements count toward the base currency, not the acquisitions.
	if wsol, ok := deltas[models.WrappedSOLMint]; ok {
		spent -= wsol
		delete(deltas, models.WrappedSOLMint)
	}

	if spent < minSpendLamports {
		return nil // base currency did not decrease: a sell, a transfer in, or noise
	}

	var acquired []string
	for mint, delta := range deltas {
		if delta > 0 {
			acquired = append(acquired, mint)
		}
	}
	if len(acquired) == 0 {
		return nil
	}
	sort.Strings(acquired) // deterministic order for multi-asset swaps

	intents := make([]models.TradeIntent, 0, len(acquired))
	for _, mint := range acquired {
		intents = append(intents, models.TradeIntent{
			IsBuy:         true,
			InputMint:     models.WrappedSOLMint,
			OutputMint:    mint,
			InputLamports: uint64(spent),
			OutDecimals:   decimals[mint],
			Signature:     signature,
		})
	}
	e.logger.Debug("extracted buy intent",
		zap.String("signature", signature),
		zap.Int64("lamports_spent", spent),
		zap.Strings("acquired", acquired))
	return intents
}

// tokenDeltas nets pre/post token balances per mint for accounts owned by the
// watched wallet. Token accounts created or closed inside the transaction
// appear on only one side of the snapshot and are treated as zero on the other.
func (e *Extractor) tokenDeltas(meta *models.TransactionMeta) (map[string]int64, map[string]int) {
	pre := make(map[int]models.TokenBalance)
	for _, tb := range meta.PreTokenBalances {
		pre[tb.AccountIndex] = tb
	}
	post := make(map[int]models.TokenBalance)
	for _, tb := range meta.PostTokenBalances {
		post[tb.AccountIndex] = tb
	}

	deltas := make(map[string]int64)
	decimals := make(map[string]int)

	seen := make(map[int]bool)
	for index, tb := range post {
		if tb.Owner != e.watchedWallet {
			continue
		}
		seen[index] = true
		postAmt := parseAmount(tb.UITokenAmount.Amount)
		var preAmt int64
		if p, ok := pre[index]; ok {
			preAmt = parseAmount(p.UITokenAmount.Amount)
		}
		deltas[tb.Mint] += postAmt - preAmt
		decimals[tb.Mint] = tb.UITokenAmount.Decimals
	}
	for index, tb := range pre {
		if tb.Owner != e.watchedWallet || seen[index] {
			continue
		}
		// account existed before and is gone after: full balance left the wallet
		deltas[tb.Mint] -= parseAmount(tb.UITokenAmount.Amount)
		decimals[tb.Mint] = tb.UITokenAmount.Decimals
	}
	return deltas, decimals
}

func parseAmount(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
