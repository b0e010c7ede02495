package main

import "carechat/cmd/app"

// @title           carechat API
// @version         1.0
// @description     Family care chat: conversations, messages, read receipts, unread counts and typing presence.
// @BasePath        /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	app.GetApp().LetsGo()
}
