// Package payout renders approved withdrawals as ISO 20022 pacs.008 credit
// transfer instructions. An operator executes the transfer; nothing here moves money.
package payout

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/store"
)

// MessageType is the ISO 20022 message produced by the exporter.
const MessageType = "pacs.008.001.08"

// Config identifies the paying institution.
type Config struct {
	DebtorName string
	DebtorBIC  string
}

// Instruction is an exported payout, ready to hand to the bank.
type Instruction struct {
	RequestID   string             `json:"request_id"`
	MessageType string             `json:"message_type"`
	Amount      decimal.Decimal    `json:"amount"`
	Currency    string             `json:"currency"`
	BankDetails models.BankDetails `json:"bank_details"`
	XML         string             `json:"xml"`
}

type Exporter struct {
	store  store.Store
	cfg    Config
	logger *zap.Logger
}

func NewExporter(st store.Store, cfg Config, logger *zap.Logger) *Exporter {
	if cfg.DebtorName == "" {
		cfg.DebtorName = "RuralPay"
	}
	if cfg.DebtorBIC == "" {
		cfg.DebtorBIC = "RURALPAY"
	}
	return &Exporter{store: st, cfg: cfg, logger: logger.Named("payout")}
}

// Instruction builds the pacs.008 document of an APPROVED request.
func (e *Exporter) Instruction(ctx context.Context, requestID string) (*Instruction, error) {
	if requestID == "" {
		return nil, apperr.New(apperr.KindValidation, "request id is required").With("field", "request_id")
	}
	w, err := e.store.GetWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalApproved {
		return nil, apperr.StateConflict(w.Status, models.WithdrawalApproved)
	}

	doc := e.pacs008(w, time.Now())
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to marshal XML: %w", err), "failed to render payout instruction")
	}

	e.logger.Info("payout instruction exported",
		zap.String("request_id", w.ID),
		zap.String("amount", w.Amount.StringFixed(2)),
		zap.String("bank_code", w.BankDetails.BankCode))

	return &Instruction{
		RequestID:   w.ID,
		MessageType: MessageType,
		Amount:      w.Amount,
		Currency:    w.Currency,
		BankDetails: w.BankDetails,
		XML:         xml.Header + string(data),
	}, nil
}

func (e *Exporter) pacs008(w *models.WithdrawalRequest, now time.Time) *pacs_v08.FIToFICustomerCreditTransferV08 {
	// Max35Text does not fit a hyphenated uuid
	ref := common.Max35Text(strings.ReplaceAll(w.ID, "-", ""))
	msgID := common.Max35Text(strings.ReplaceAll(uuid.NewString(), "-", ""))
	amount := pacs_v08.ActiveCurrencyAndAmount{
		Ccy:   common.ActiveCurrencyCode(w.Currency),
		Value: w.Amount.InexactFloat64(),
	}
	bic := common.BICFIDec2014Identifier(e.cfg.DebtorBIC)
	debtor := common.Max140Text(e.cfg.DebtorName)
	creditor := common.Max140Text(w.BankDetails.AccountName)

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:             msgID,
			CreDtTm:           common.ISODateTime(now),
			NbOfTxs:           "1",
			TtlIntrBkSttlmAmt: &amount,
			IntrBkSttlmDt:     (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &ref,
					EndToEndId: ref,
					TxId:       &ref,
				},
				IntrBkSttlmAmt: amount,
				IntrBkSttlmDt:  (*common.ISODate)(&now),
				ChrgBr:         "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &bic,
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &debtor,
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(w.BankDetails.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &creditor,
				},
			},
		},
	}
}
