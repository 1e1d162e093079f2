package store

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        session_token TEXT UNIQUE NOT NULL,
        ip_address TEXT,
        user_agent TEXT,
        created_at DATETIME NOT NULL,
        expires_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    )`,
	`CREATE TABLE IF NOT EXISTS security_logs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        event_type TEXT NOT NULL,
        event_desc TEXT,
        ip_address TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    )`,
	`CREATE TABLE IF NOT EXISTS inputs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        input_type TEXT NOT NULL CHECK (input_type IN ('text', 'file')),
        input_txt TEXT,
        file_path TEXT,
        created_at DATETIME NOT NULL,
        CHECK ((input_txt IS NULL) <> (file_path IS NULL)),
        FOREIGN KEY (user_id) REFERENCES users (id)
    )`,
	`CREATE TABLE IF NOT EXISTS documents (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        input_id INTEGER NOT NULL,
        content TEXT,
        page_number INTEGER,
        FOREIGN KEY (input_id) REFERENCES inputs (id)
    )`,
	`CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        input_id INTEGER NOT NULL,
        generated_answer TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (input_id) REFERENCES inputs (id)
    )`,
	`CREATE TABLE IF NOT EXISTS execution_results (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        prediction_id INTEGER UNIQUE NOT NULL,
        result_json TEXT,
        execution_time REAL NOT NULL,
        success BOOLEAN NOT NULL,
        error_message TEXT,
        CHECK (success OR (error_message IS NOT NULL AND error_message <> '')),
        FOREIGN KEY (prediction_id) REFERENCES predictions (id)
    )`,
	`CREATE TABLE IF NOT EXISTS feedback (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        prediction_id INTEGER NOT NULL,
        rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
        comment TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (prediction_id) REFERENCES predictions (id)
    )`,
	`CREATE TABLE IF NOT EXISTS data_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source TEXT NOT NULL,
        page_number INTEGER,
        content TEXT NOT NULL,
        embedding_json TEXT -- Storing as JSON string of []float32
    )`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        name VARCHAR(120) NOT NULL,
        email VARCHAR(190) NOT NULL UNIQUE,
        password_hash VARCHAR(255) NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    ) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        user_id BIGINT NOT NULL,
        session_token CHAR(64) NOT NULL UNIQUE,
        ip_address VARCHAR(45),
        user_agent VARCHAR(255),
        created_at DATETIME NOT NULL,
        expires_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    ) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS security_logs (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        user_id BIGINT NOT NULL,
        event_type VARCHAR(50) NOT NULL,
        event_desc TEXT,
        ip_address VARCHAR(45),
        created_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    ) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS inputs (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        user_id BIGINT NOT NULL,
        input_type VARCHAR(10) NOT NULL CHECK (input_type IN ('text', 'file')),
        input_txt TEXT,
        file_path VARCHAR(1024),
        created_at DATETIME NOT NULL,
        CHECK ((input_txt IS NULL) <> (file_path IS NULL)),
        FOREIGN KEY (user_id) REFERENCES users (id)
    ) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS documents (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        input_id BIGINT NOT NULL,
        content LONGTEXT,
        page_number INT,
        FOREIGN KEY (input_id) REFERENCES inputs (id)
    ) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS predictions (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        input_id BIGINT NOT NULL,
        generated_answer LONGTEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (input_id) REFERENCES inputs (id)
    ) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS execution_results (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        prediction_id BIGINT NOT NULL UNIQUE,
        result_json LONGTEXT,
        execution_time DOUBLE NOT NULL,
        success BOOLEAN NOT NULL,
        error_message TEXT,
        CHECK (success OR (error_message IS NOT NULL AND error_message <> '')),
        FOREIGN KEY (prediction_id) REFERENCES predictions (id)
    ) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS feedback (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        prediction_id BIGINT NOT NULL,
        rating TINYINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
        comment TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (prediction_id) REFERENCES predictions (id)
    ) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS data_chunks (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        source VARCHAR(1024) NOT NULL,
        page_number INT,
        content LONGTEXT NOT NULL,
        embedding_json LONGTEXT
    ) CHARACTER SET utf8mb4`,
}
