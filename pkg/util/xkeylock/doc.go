// Package xkeylock 提供按 key 互斥的进程内锁。
//
// 同一 key 的持有者与等待者共享一个条目，全部释放后条目被回收，
// 因此 key 空间可以无界（用户 ID、Token 等）而不会累积内存。
//
//	locks, _ := xkeylock.New()
//	unlock, err := locks.Lock(ctx, "user:"+userID)
//	if err != nil {
//	    return err
//	}
//	defer unlock()
//
// Lock 在 ctx 取消或 Locker 关闭时放弃等待。锁不可重入。
package xkeylock
