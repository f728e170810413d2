package stomp

var Negotiate = negotiate
