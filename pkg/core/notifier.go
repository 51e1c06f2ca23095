package core

// Notifier delivers out-of-band operator notifications
type Notifier interface {
	Notify(text string)
}

// NotifierWithStart is a notifier that owns a long-running receive loop
type NotifierWithStart interface {
	Notifier
	Start()
}
