package bot

// All user-facing bot messages in one place.

// ── /start & /help ──────────────────────────────────────────────────

const msgStart = `<b>Вітаю!</b>

Я слідкую за світлом у вашому домі: поки пристрій пінгує мене — світло є, коли пінги зупиняються — сповіщаю канал, що світла немає.

<b>Команди:</b>
/create &lt;channel_id&gt; — створити новий канал (генерує ключ)
/key &lt;channel_id&gt; — отримати API ключ
/newkey &lt;channel_id&gt; — згенерувати новий випадковий ключ
/setkey &lt;channel_id&gt; &lt;key&gt; — замінити ключ на свій
/timezone &lt;channel_id&gt; &lt;timezone&gt; — встановити часовий пояс
/target &lt;channel_id&gt; &lt;host|off&gt; — активний пінг хоста сервером
/pause &lt;channel_id&gt; — призупинити моніторинг
/resume &lt;channel_id&gt; — відновити моніторинг
/delete &lt;channel_id&gt; — видалити канал
/transfer &lt;channel_id&gt; &lt;user_id&gt; — передати власність
/history &lt;channel_id&gt; [кількість] — історія змін статусу
/stats &lt;channel_id&gt; — статистика за сьогодні
/status [channel_id] — перевірити статус

Перешліть повідомлення з каналу для отримання ID.`

// ── Generic / errors ────────────────────────────────────────────────

const (
	msgError            = "❌ Щось пішло не так. Спробуйте пізніше."
	msgNotOwner         = "❌ Ви не є власником цього каналу"
	msgNotConfigured    = "❌ Канал не налаштований"
	msgAlreadyExists    = "❌ Цей канал вже налаштований"
	msgInvalidChannelID = "❌ Невірний ID каналу"
	msgInvalidUserID    = "❌ Невірний ID користувача"
	msgInvalidTimezone  = "❌ Невірний часовий пояс"
	msgInvalidKey       = "❌ Невірний формат ключа (очікується UUID)"
	msgKeyInUse         = "❌ Цей ключ вже використовується"
)

// ── Management replies ──────────────────────────────────────────────

const (
	msgCreated = "✅ Канал створено!\n\n🔑 API ключ: <code>%s</code>\n\nВикористовуйте:\n<code>curl %s/api/ping/%s</code>"
	msgShowKey = "🔑 API ключ: <code>%s</code>\n\nВикористовуйте:\n<code>curl %s/api/ping/%s</code>"
	msgNewKey  = "✅ Новий API ключ згенеровано!\n\n🔑 API ключ: <code>%s</code>\n\n⚠️ Старий ключ більше не працює. Оновіть його у вашому скрипті:\n<code>curl %s/api/ping/%s</code>"
	msgSetKey  = "✅ API ключ замінено!\n\n🔑 Новий ключ: <code>%s</code>\n\n⚠️ Старий ключ більше не працює."

	msgTimezoneSet   = "✅ Часовий пояс встановлено: %s"
	msgTargetSet     = "✅ Активний пінг увімкнено для %s. Сервер сам перевірятиме доступність хоста."
	msgTargetCleared = "✅ Активний пінг вимкнено"
	msgPaused        = "⏸ Моніторинг призупинено. Сповіщень не буде, але пінги приймаються."
	msgResumed       = "▶️ Моніторинг відновлено"
	msgDeleted       = "✅ Канал видалено"
	msgTransferred   = "✅ Власника каналу передано користувачу %d"
	msgForwardedID   = "ID каналу: <code>%d</code>\n\nВикористайте: /create %d"
)

// ── /history ────────────────────────────────────────────────────────

const (
	msgHistoryEmpty  = "📜 Історія порожня"
	msgHistoryHeader = "📜 Історія (останні %d):\n\n"
)

// ── /status ─────────────────────────────────────────────────────────

const (
	msgNoChannels      = "❌ У вас немає налаштованих каналів"
	msgStatusNoData    = "📊 Статус: ⚪️ невідомо\n\n⚠️ Ще не було жодного запиту"
	msgStatusOnline    = "📊 Статус: 🟢 світло є"
	msgStatusOffline   = "📊 Статус: 🔴 світла немає"
	msgStatusLastPing  = "\n\n📶 Останній запит: %s тому"
	msgStatusChangedAt = "\n🔄 Статус змінено: %s тому"
	msgStatusPausedTag = "\n⏸ Моніторинг призупинено"
)

// ── /stats ──────────────────────────────────────────────────────────

const (
	msgStatsNoData = "📊 Ще недостатньо даних для статистики"
	msgStatsDaily  = "📊 Сьогодні:\n🟢 Світло було %s\n🔴 Світла не було %s\n⚡️ Відключень: %d"
)

// ── Channel notifications ───────────────────────────────────────────

const (
	msgNotifyOnline       = "🟢 %s Світло з'явилося\n🕓 Його не було %s"
	msgNotifyOnlineNoDur  = "🟢 %s Світло з'явилося\n🕓 Його не було невідомо скільки"
	msgNotifyOffline      = "🔴 %s Світло зникло\n🕓 Воно було %s"
	msgNotifyOfflineNoDur = "🔴 %s Світло зникло"
	msgNotifyStatsLine    = "\n📊 Сьогодні: 🟢 %s / 🔴 %s, відключень: %d"

	msgChannelError = "⚠️ Не вдалося надіслати повідомлення у канал <b>%d</b>. Моніторинг призупинено — перевірте, що бот є адміністратором каналу, і виконайте /resume."
)
