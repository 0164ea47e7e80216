// Package recognize reads transaction fields off receipt screenshots with a
// vision language model.
package recognize

import (
	"context"
	"time"
)

// Recognizer sends one image to a vision model and parses its reply.
type Recognizer interface {
	Recognize(ctx context.Context, img Image) (Extraction, error)
	Model() string
}

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxTokens = 1024
)

// DefaultPrompt asks for the eight ledger fields as bare JSON. The wording
// targets Chinese-language payment screenshots and asks the model to keep the
// original text untranslated.
const DefaultPrompt = `
这是交易截图，请识别消费/收入信息，识别出的文字内容应严格遵循图片上原有内容，不要转换来翻译成其它语言。请返回仅 JSON 格式的数据，不要输出任何其他内容。
提取字段:
交易时间：如2025-02-15 12:30:00，使用时间格式表示
收入金额：如99.99，使用数字表示，如果没有收入则为空
支出金额：如99.99，使用数字表示，如果没有支出则为空
消费的应用：提取项目"交易场所"，如沃尔玛、拼多多、线下商店、公交473路等
支付平台：如微信、支付宝、美团支付等
金融终端：如某银行银行卡、信用卡、微信零钱，支付宝花呗等
说明：如小票备注、商品名称、交易号等
类别：如餐饮、交通、购物、医疗等。水、电、燃气分类到生活缴费。

返回示例格式:
{
  "transaction_time": "2025-02-15 12:30:00",
  "income_amount": "",
  "expense_amount": 99.99,
  "transaction_app": "拼多多",
  "payment_platform": "微信",
  "financial_terminal": "信用卡",
  "memo": "订单号：987654321",
  "category": "餐饮"
}
如果无法识别，返回空。
`

// Options tune a recognizer. Zero values take the defaults.
type Options struct {
	Model     string
	Prompt    string
	Timeout   time.Duration
	MaxTokens int
}

func (o Options) withDefaults(model string) Options {
	if o.Model == "" {
		o.Model = model
	}
	if o.Prompt == "" {
		o.Prompt = DefaultPrompt
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}
