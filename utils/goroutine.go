package utils

import "log"

// SafeGo 拦截 panic 的 goroutine，name 用于定位 panic 来源
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[%s] panic recovered: %v", name, err)
			}
		}()
		fn()
	}()
}
