/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-09
 *
 * Buffer Pool - 远端 RTP 读取缓冲池
 * 每个远端 Track 都有一个持续读包的 goroutine，复用缓冲区减少 GC 压力
 */
package utils

import (
	"sync"
)

const (
	// ReadBufferSize 覆盖 UDP MTU 1500 的单个 RTP 包
	ReadBufferSize = 1500

	// 超过这个容量的切片不放回池中
	maxPooledBuffer = 4096
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, ReadBufferSize)
		return &b
	},
}

// GetBuffer 获取一个长度为 length 的切片，容量不够时直接分配
func GetBuffer(length int) []byte {
	bp := bufferPool.Get().(*[]byte)
	if cap(*bp) < length {
		bufferPool.Put(bp)
		return make([]byte, length)
	}
	return (*bp)[:length]
}

// PutBuffer 将切片放回池中
func PutBuffer(buf []byte) {
	if cap(buf) < ReadBufferSize || cap(buf) > maxPooledBuffer {
		return
	}
	buf = buf[:cap(buf)]
	bufferPool.Put(&buf)
}
