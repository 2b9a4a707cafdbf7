package pool

import "sync"

// CopyBufferSize 封面落盘时的拷贝缓冲区大小（256KB）
const CopyBufferSize = 256 * 1024

// CopyBuffers 封面写入路径共享的缓冲区池
// 存放 *[]byte 以避免接口装箱时的额外分配
var CopyBuffers = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, CopyBufferSize)
		return &buf
	},
}
