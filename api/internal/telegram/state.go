package telegram

import "sync"

var chatLocks sync.Map // chatID -> *sync.Mutex

// lockChat serialises updates of one chat; other chats proceed in parallel.
func lockChat(chatID int64) func() {
	v, _ := chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
