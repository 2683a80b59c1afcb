package chat

var NewMemstore = newMemstore
