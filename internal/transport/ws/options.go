// Package ws carries session and notification events over gorilla/websocket:
// a server-side Channel with a bounded outbound queue and a reconnecting
// client.
package ws

import "time"

// Options 服务端连接参数
type Options struct {
	QueueSize      int           // 出站队列长度
	PingInterval   time.Duration // 协议层 Ping 间隔
	PongWait       time.Duration // 等待任意入站帧的最长时间
	WriteTimeout   time.Duration // 单次写超时
	CloseGrace     time.Duration // 发送关闭帧后等待对端的时间
	MaxMessageSize int64         // 入站消息上限（字节）
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		QueueSize:      256,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteTimeout:   10 * time.Second,
		CloseGrace:     time.Second,
		MaxMessageSize: 64 << 10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = d.CloseGrace
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}
