package kafka

// MessageHandler 处理一条消息；返回错误只记录日志，offset 照常提交
type MessageHandler func(topic string, key, value []byte) error
