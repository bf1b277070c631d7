package main

import (
	"net/http"
	"time"
)

const timeoutBody = `<html lang="ko">
<head><title>시간 초과</title></head>
<body>
<h1>시간 초과</h1>
<p>요청이 너무 오래 걸립니다. 처리는 계속되니 잠시 후 페이지를 새로 고쳐 주세요.</p>
<p><a href="/">새로 고침</a></p>
</body>
</html>
`

// timeoutHandler responds with a 503 Service Unavailable error when the handler does not meet the deadline.
func timeoutHandler(h http.Handler, writeTimeout time.Duration) http.Handler {
	// The timeout is a little shorter than the server's write timeout so that the timeout handler has a chance
	// to respond before the server closes the connection.
	httpHandlerTimeout := writeTimeout - 500*time.Millisecond //nolint:mnd // 500ms
	return http.TimeoutHandler(h, httpHandlerTimeout, timeoutBody)
}
