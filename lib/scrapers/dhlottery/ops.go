package dhlottery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dhlottery-backend/lib/htmlutil"
	"dhlottery-backend/lib/scrapers/dhlottery/cipher"
	"dhlottery-backend/lib/timezone"
)

// Lotto645Result is the latest published draw.
type Lotto645Result struct {
	Round             int
	Numbers           []int
	Bonus             int
	DrawDate          string
	FirstPrizeWinners int
	FirstPrizeAmount  int64
	TotalSales        int64
}

// AccountSummary is the signed-in account's balance view.
type AccountSummary struct {
	TotalAmount             int64
	UnconfirmedCount        int
	UnclaimedHighValueCount int
}

// Lotto645Game is one line on a ticket; empty Numbers buys an
// auto-generated line.
type Lotto645Game struct {
	Numbers []int
}

func expectJSONObject(body []byte) error {
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("body is not a JSON object: %w", err)
	}
	return nil
}

// unwrapData peels the optional {"data": {...}} envelope newer
// endpoints wrap their payloads in.
func unwrapData(v map[string]any) map[string]any {
	if data, ok := v["data"].(map[string]any); ok {
		return data
	}
	return v
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return parsed
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(parsed)
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

var ajaxHeaders = map[string]string{
	"X-Requested-With": "XMLHttpRequest",
	"Accept":           "application/json, text/javascript, */*; q=0.01",
	"AJAX":             "true",
}

// FetchLotto645Result returns the most recent Lotto 6/45 draw.
func (c *Client) FetchLotto645Result(ctx context.Context) (*Lotto645Result, error) {
	res, err := c.Perform(ctx, Operation{
		Name:   "FetchLotto645Result",
		Method: http.MethodGet,
		URL:    c.config.PrimaryURL + "/lt645/selectPstLt645Info.do",
		Expect: expectJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var envelope map[string]any
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, err
	}
	list, _ := unwrapData(envelope)["list"].([]any)
	if len(list) == 0 {
		return nil, &ResponseError{
			Operation: "FetchLotto645Result",
			Status:    res.StatusCode,
			Outcome:   OutcomeMalformed,
			Hint:      "draw list is empty",
		}
	}
	item, _ := list[0].(map[string]any)

	result := &Lotto645Result{
		Round:             asInt(item["ltEpsd"]),
		Bonus:             asInt(item["bnsWnNo"]),
		DrawDate:          fmt.Sprint(item["ltRflYmd"]),
		FirstPrizeWinners: asInt(item["rnk1WnNope"]),
		FirstPrizeAmount:  asInt64(item["rnk1WnAmt"]),
		TotalSales:        asInt64(item["wholEpsdSumNtslAmt"]),
	}
	for i := 1; i <= 6; i++ {
		result.Numbers = append(result.Numbers, asInt(item[fmt.Sprintf("tm%dWnNo", i)]))
	}
	return result, nil
}

// FetchPension720Result returns the raw draw payload for one round;
// round 0 means the latest.
func (c *Client) FetchPension720Result(ctx context.Context, round int) (map[string]any, error) {
	if round == 0 {
		rounds, err := c.FetchPension720Rounds(ctx)
		if err != nil {
			return nil, err
		}
		if len(rounds) == 0 {
			return nil, &ResponseError{
				Operation: "FetchPension720Result",
				Outcome:   OutcomeMalformed,
				Hint:      "no published rounds",
			}
		}
		round = rounds[len(rounds)-1]
	}

	res, err := c.Perform(ctx, Operation{
		Name:   "FetchPension720Result",
		Method: http.MethodGet,
		URL:    c.config.PrimaryURL + "/pt720/selectPstPt720Info.do",
		Query:  map[string]string{"srchPsltEpsd": strconv.Itoa(round)},
		Expect: expectJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var envelope map[string]any
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}

// FetchPension720Rounds lists the published Pension 720+ rounds in
// ascending order.
func (c *Client) FetchPension720Rounds(ctx context.Context) ([]int, error) {
	res, err := c.Perform(ctx, Operation{
		Name:   "FetchPension720Rounds",
		Method: http.MethodGet,
		URL:    c.config.PrimaryURL + "/pt720/selectPstPt720WnList.do",
		Expect: expectJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var envelope map[string]any
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, err
	}
	items, _ := unwrapData(envelope)["result"].([]any)

	var rounds []int
	for _, raw := range items {
		item, _ := raw.(map[string]any)
		if round := asInt(item["psltEpsd"]); round > 0 {
			rounds = append(rounds, round)
		}
	}
	sort.Ints(rounds)
	return rounds, nil
}

// FetchAccountSummary reads the deposit balance and unclaimed-win
// counters from the signed-in my-page endpoints.
func (c *Client) FetchAccountSummary(ctx context.Context) (*AccountSummary, error) {
	mndpRes, err := c.Perform(ctx, Operation{
		Name:         "FetchAccountSummary/mndp",
		Method:       http.MethodGet,
		URL:          c.config.PrimaryURL + "/mypage/selectUserMndp.do",
		Query:        map[string]string{"_": strconv.FormatInt(timezone.Now().UnixMilli(), 10)},
		Headers:      mergeHeaders(ajaxHeaders, map[string]string{"requestMenuUri": "/mypage/home"}),
		RequiresAuth: true,
		Expect:       expectJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var mndpEnvelope map[string]any
	if err := json.Unmarshal(mndpRes.Body, &mndpEnvelope); err != nil {
		return nil, err
	}
	mndp := unwrapData(mndpEnvelope)
	if inner, ok := mndp["userMndp"].(map[string]any); ok {
		mndp = inner
	}

	total := asInt64(mndp["totalAmt"])
	if total == 0 {
		total = asInt64(mndp["pntDpstAmt"]) - asInt64(mndp["pntTkmnyAmt"])
		total += asInt64(mndp["ncsblDpstAmt"]) - asInt64(mndp["ncsblTkmnyAmt"])
		total += asInt64(mndp["csblDpstAmt"]) - asInt64(mndp["csblTkmnyAmt"])
	}

	summary := &AccountSummary{TotalAmount: total}

	tooltipRes, err := c.Perform(ctx, Operation{
		Name:         "FetchAccountSummary/tooltip",
		Method:       http.MethodGet,
		URL:          c.config.PrimaryURL + "/mypage/selectMypageTooltip.do",
		Headers:      ajaxHeaders,
		RequiresAuth: true,
		Expect:       expectJSONObject,
	})
	if err != nil {
		// the balance alone is still useful
		return summary, nil
	}
	var tooltipEnvelope map[string]any
	if err := json.Unmarshal(tooltipRes.Body, &tooltipEnvelope); err != nil {
		return summary, nil
	}
	tooltip := unwrapData(tooltipEnvelope)
	if info, ok := tooltip["ncfmLtInfo"].(map[string]any); ok {
		summary.UnconfirmedCount = asInt(info["cnt"])
	}
	if wins, ok := tooltip["nrcvmtLramWnCntList"].([]any); ok {
		summary.UnclaimedHighValueCount = len(wins)
	}
	return summary, nil
}

// FetchWinningShops lists shops that sold a winning ticket for the
// given lottery type ("lt645", "pt720", anything else = scratch),
// rank, and round; region is optional.
func (c *Client) FetchWinningShops(ctx context.Context, lotteryType string, rank, round int, region string) (map[string]any, error) {
	path := "/wnprchsplcsrch/selectLtWnShp.do"
	switch lotteryType {
	case "lt645":
	case "pt720":
		path = "/wnprchsplcsrch/selectPtWnShp.do"
	default:
		path = "/wnprchsplcsrch/selectStWnShp.do"
	}

	res, err := c.Perform(ctx, Operation{
		Name:   "FetchWinningShops",
		Method: http.MethodGet,
		URL:    c.config.PrimaryURL + path,
		Query: map[string]string{
			"srchWnShpRnk": strconv.Itoa(rank),
			"srchLtEpsd":   strconv.Itoa(round),
			"srchShpLctn":  region,
		},
		Expect: expectJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var envelope map[string]any
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}

// FetchPurchaseLedger returns the account's purchase history between
// two YYYYMMDD dates (both default to today, Seoul time).
func (c *Client) FetchPurchaseLedger(ctx context.Context, startDate, endDate string) (map[string]any, error) {
	if startDate == "" {
		startDate = timezone.Today()
	}
	if endDate == "" {
		endDate = timezone.Today()
	}

	res, err := c.Perform(ctx, Operation{
		Name:   "FetchPurchaseLedger",
		Method: http.MethodGet,
		URL:    c.config.PrimaryURL + "/mypage/selectMyLotteryledger.do",
		Query: map[string]string{
			"srchStrDt":          startDate,
			"srchEndDt":          endDate,
			"sort":               "",
			"ltGdsCd":            "",
			"winResult":          "",
			"pageNum":            "1",
			"recordCountPerPage": "50",
			"_":                  strconv.FormatInt(timezone.Now().UnixMilli(), 10),
		},
		Headers:      ajaxHeaders,
		RequiresAuth: true,
		Expect:       expectJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var envelope map[string]any
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}

var gameSlots = []string{"A", "B", "C", "D", "E"}

// BuyLotto645 purchases up to five lines in one ticket. The purchase
// form needs values scraped from the game page plus a ready token
// from the game socket endpoint.
func (c *Client) BuyLotto645(ctx context.Context, games []Lotto645Game) (map[string]any, error) {
	if len(games) < 1 || len(games) > len(gameSlots) {
		return nil, fmt.Errorf("a ticket holds 1 to %d games, got %d", len(gameSlots), len(games))
	}
	for _, game := range games {
		if len(game.Numbers) != 0 && len(game.Numbers) != 6 {
			return nil, fmt.Errorf("a manual game needs exactly 6 numbers, got %d", len(game.Numbers))
		}
	}

	readyRes, err := c.Perform(ctx, Operation{
		Name:   "BuyLotto645/ready",
		Method: http.MethodPost,
		URL:    c.config.OnlineURL + "/olotto/game/egovUserReadySocket.json",
		Headers: map[string]string{
			"X-Requested-With": "XMLHttpRequest",
			"Referer":          c.config.OnlineURL + "/olotto/game/game645.do",
		},
		RequiresAuth: true,
		Expect:       expectJSONObject,
	})
	if err != nil {
		return nil, err
	}
	var ready struct {
		ReadyIP string `json:"ready_ip"`
	}
	if err := json.Unmarshal(readyRes.Body, &ready); err != nil {
		return nil, err
	}

	pageRes, err := c.Perform(ctx, Operation{
		Name:         "BuyLotto645/gamePage",
		Method:       http.MethodGet,
		URL:          c.config.OnlineURL + "/olotto/game/game645.do",
		Headers:      map[string]string{"Referer": c.config.PrimaryURL + "/common.do?method=main"},
		RequiresAuth: true,
	})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pageRes.Body))
	if err != nil {
		return nil, err
	}
	round := htmlutil.InputValue(doc, "curRound")
	drawDate := htmlutil.InputValue(doc, "ROUND_DRAW_DATE")
	paymentDeadline := htmlutil.InputValue(doc, "WAMT_PAY_TLMT_END_DT")
	if round == "" || drawDate == "" || paymentDeadline == "" {
		return nil, &ResponseError{
			Operation: "BuyLotto645",
			Status:    pageRes.StatusCode,
			Outcome:   OutcomeMalformed,
			Hint:      "purchase form values missing from game page",
		}
	}

	type gameParam struct {
		GenType          string  `json:"genType"`
		ArrGameChoiceNum *string `json:"arrGameChoiceNum"`
		Alpabet          string  `json:"alpabet"`
	}
	params := make([]gameParam, 0, len(games))
	for i, game := range games {
		if len(game.Numbers) == 0 {
			params = append(params, gameParam{GenType: "0", Alpabet: gameSlots[i]})
			continue
		}
		numbers := append([]int(nil), game.Numbers...)
		sort.Ints(numbers)
		parts := make([]string, len(numbers))
		for j, n := range numbers {
			parts[j] = strconv.Itoa(n)
		}
		choice := strings.Join(parts, ",")
		params = append(params, gameParam{GenType: "1", ArrGameChoiceNum: &choice, Alpabet: gameSlots[i]})
	}
	paramJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	buyRes, err := c.Perform(ctx, Operation{
		Name:   "BuyLotto645/execBuy",
		Method: http.MethodPost,
		URL:    c.config.OnlineURL + "/olotto/game/execBuy.do",
		Headers: map[string]string{
			"Origin":  c.config.OnlineURL,
			"Referer": c.config.OnlineURL + "/olotto/game/game645.do",
		},
		Form: map[string]string{
			"round":                round,
			"direct":               ready.ReadyIP,
			"nBuyAmount":           strconv.Itoa(1000 * len(games)),
			"param":                string(paramJSON),
			"ROUND_DRAW_DATE":      drawDate,
			"WAMT_PAY_TLMT_END_DT": paymentDeadline,
			"gameCnt":              strconv.Itoa(len(games)),
			"saleMdaDcd":           "10",
		},
		RequiresAuth: true,
		Expect:       expectJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var receipt map[string]any
	if err := json.Unmarshal(buyRes.Body, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// BuyPension720Auto buys one auto-selected Pension 720+ set (all five
// class slots) through the e-lottery host's encrypted three-step flow.
// The symmetric key code is the live session id.
func (c *Client) BuyPension720Auto(ctx context.Context) (map[string]any, error) {
	round, err := c.pension720BuyRound(ctx)
	if err != nil {
		return nil, err
	}

	keyCode := c.session.SessionID()
	if keyCode == "" {
		return nil, &cipher.CryptoError{
			Op:  "derive key code",
			Err: fmt.Errorf("no live session id"),
		}
	}

	autoPayload := fmt.Sprintf(
		"ROUND=%[1]s&round=%[1]s&LT_EPSD=%[1]s&SEL_NO=&BUY_CNT=&AUTO_SEL_SET=SA&SEL_CLASS=&BUY_TYPE=A&ACCS_TYPE=01",
		round)
	autoBody, err := c.pension720Step(ctx, "BuyPension720Auto/makeAutoNo", "/makeAutoNo.do", keyCode, autoPayload)
	if err != nil {
		return nil, err
	}
	selNo, _ := autoBody["selLotNo"].(string)
	if selNo == "" {
		return nil, &ResponseError{
			Operation: "BuyPension720Auto",
			Outcome:   OutcomeMalformed,
			Hint:      "no number selection in makeAutoNo response",
		}
	}

	orderPayload := fmt.Sprintf(
		"ROUND=%[1]s&round=%[1]s&LT_EPSD=%[1]s&AUTO_SEL_SET=SA&SEL_CLASS=&SEL_NO=%[2]s&BUY_TYPE=M&BUY_CNT=5",
		round, selNo)
	orderBody, err := c.pension720Step(ctx, "BuyPension720Auto/makeOrderNo", "/makeOrderNo.do", keyCode, orderPayload)
	if err != nil {
		return nil, err
	}
	orderNo, _ := orderBody["orderNo"].(string)
	orderDate, _ := orderBody["orderDate"].(string)
	if orderNo == "" || orderDate == "" {
		return nil, &ResponseError{
			Operation: "BuyPension720Auto",
			Outcome:   OutcomeMalformed,
			Hint:      "no order number in makeOrderNo response",
		}
	}

	var buyNo strings.Builder
	for i := 1; i <= 5; i++ {
		if i > 1 {
			buyNo.WriteString("%2C")
		}
		buyNo.WriteString(strconv.Itoa(i))
		buyNo.WriteString(selNo)
	}
	connPayload := fmt.Sprintf(
		"ROUND=%[1]s&FLAG=&BUY_KIND=01&BUY_NO=%[2]s&BUY_CNT=5"+
			"&BUY_SET_TYPE=SA%%2CSA%%2CSA%%2CSA%%2CSA&BUY_TYPE=A%%2CA%%2CA%%2CA%%2CA%%2C"+
			"&CS_TYPE=01&orderNo=%[3]s&orderDate=%[4]s&TRANSACTION_ID=&WIN_DATE="+
			"&USER_ID=%[5]s&PAY_TYPE=&resultErrorCode=&resultErrorMsg=&resultOrderNo="+
			"&WORKING_FLAG=true&NUM_CHANGE_TYPE=&auto_process=N&set_type=SA&classnum=&selnum="+
			"&buytype=M&num1=&num2=&num3=&num4=&num5=&num6=&DSEC=34&CLOSE_DATE="+
			"&verifyYN=N&curdeposit=&curpay=5000&DROUND=%[1]s&DSEC=0&CLOSE_DATE=&verifyYN=N"+
			"&lotto720_radio_group=on",
		round, buyNo.String(), orderNo, orderDate, c.config.Username)
	return c.pension720Step(ctx, "BuyPension720Auto/connPro", "/connPro.do", keyCode, connPayload)
}

// pension720BuyRound scrapes the sale round (one behind the displayed
// draw counter) from the main page.
func (c *Client) pension720BuyRound(ctx context.Context) (string, error) {
	res, err := c.Perform(ctx, Operation{
		Name:         "BuyPension720Auto/round",
		Method:       http.MethodGet,
		URL:          c.config.PrimaryURL + "/common.do?method=main",
		RequiresAuth: true,
	})
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return "", err
	}
	displayed := strings.TrimSpace(htmlutil.ElementText(doc, "strong#drwNo720"))
	n, err := strconv.Atoi(displayed)
	if err != nil {
		return "", &ResponseError{
			Operation: "BuyPension720Auto",
			Status:    res.StatusCode,
			Outcome:   OutcomeMalformed,
			Hint:      "draw counter missing from main page",
		}
	}
	return strconv.Itoa(n - 1), nil
}

// pension720Step runs one encrypted exchange with the e-lottery host:
// the request payload travels AES-encrypted in the q form field, the
// response q field decrypts to a JSON object.
func (c *Client) pension720Step(ctx context.Context, name, path, keyCode, payload string) (map[string]any, error) {
	encrypted, err := cipher.EncryptPayload(keyCode, payload)
	if err != nil {
		return nil, err
	}

	res, err := c.Perform(ctx, Operation{
		Name:   name,
		Method: http.MethodPost,
		URL:    c.config.ELotteryURL + path,
		Headers: map[string]string{
			"Origin":           c.config.ELotteryURL,
			"Referer":          c.config.ELotteryURL + "/game/pension720/game.jsp",
			"X-Requested-With": "XMLHttpRequest",
		},
		// the endpoint expects the ciphertext pre-escaped inside the
		// form encoding
		Form:         map[string]string{"q": url.QueryEscape(encrypted)},
		RequiresAuth: true,
		Expect:       expectJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Q string `json:"q"`
	}
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, err
	}
	decrypted, err := cipher.DecryptPayload(keyCode, envelope.Q)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(decrypted), &body); err != nil {
		return nil, fmt.Errorf("%s: decrypted payload is not JSON: %w", name, err)
	}
	return body, nil
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
