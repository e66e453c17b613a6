package ledger

const (
	operationPost         = "post"
	operationCreditWallet = "credit_wallet"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
