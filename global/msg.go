package global

import "moodchat/tools/errs"

// Msg 统一返回结构
type Msg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

const CodeOK = 0

func Sucess(data any) *Msg {
	return &Msg{
		Code: CodeOK,
		Msg:  "ok",
		Data: data,
	}
}

// Fail 返回业务错误码，detail 可选
func Fail(code int, msg string, detail any) *Msg {
	return &Msg{
		Code: code,
		Msg:  msg,
		Data: detail,
	}
}

// FailErr 把 CodeError 转成返回结构；其它错误统一为内部错误，不向外暴露细节
func FailErr(err error) *Msg {
	ce := errs.Code(err)
	if ce == nil {
		return Fail(errs.ErrInternal.Code, errs.ErrInternal.Msg, nil)
	}
	if ce.Detail == "" {
		return Fail(ce.Code, ce.Msg, nil)
	}
	return Fail(ce.Code, ce.Msg, ce.Detail)
}
