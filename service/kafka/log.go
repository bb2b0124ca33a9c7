package kafka

import (
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// glogLogger 把 sarama 内部日志接到 glog
type glogLogger struct{}

func (glogLogger) Print(v ...interface{})                 { glog.InfoDepth(1, v...) }
func (glogLogger) Printf(format string, v ...interface{}) { glog.InfoDepth(1, fmt.Sprintf(format, v...)) }
func (glogLogger) Println(v ...interface{})               { glog.InfoDepth(1, fmt.Sprintln(v...)) }

func init() {
	sarama.Logger = glogLogger{}
}
