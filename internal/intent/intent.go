package intent

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "ArcFlow/internal/errors"
)

// TransactionIntent 是经过清洗后的规范化转账意图，构造后不可变，
// 只在一次 ExecuteIntent 调用内存活。
type TransactionIntent struct {
	ID           string
	RawRecipient string
	RawAmount    string
	Recipient    string
	Amount       decimal.Decimal
}

// Sanitize 将大模型抽取出的不可信参数规范化为转账意图。
//
// 地址只做小写归一化，不做校验和验证：抽取结果来自自然语言解析，
// 校验和失败的地址在下游由白名单和限额兜底。金额会剥离所有
// 非数字、非小数点字符（例如 "0.1 USDC" -> "0.1"）。
func Sanitize(rawRecipient, rawAmount string) (*TransactionIntent, error) {
	recipient := strings.ToLower(strings.TrimSpace(rawRecipient))
	if recipient == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收款地址不能为空")
	}

	cleaned := stripDecoration(rawAmount)
	if cleaned == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账金额缺少有效数字",
			xerrors.WithMetadata("raw_amount", rawAmount))
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "转账金额无法解析",
			xerrors.WithMetadata("raw_amount", rawAmount))
	}
	if amount.IsNegative() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账金额不能为负数",
			xerrors.WithMetadata("raw_amount", rawAmount))
	}

	return &TransactionIntent{
		ID:           uuid.NewString(),
		RawRecipient: rawRecipient,
		RawAmount:    rawAmount,
		Recipient:    recipient,
		Amount:       amount,
	}, nil
}

// stripDecoration 去掉金额字符串中的货币符号、单位等装饰字符。
func stripDecoration(raw string) string {
	var builder strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
